// Package mocks provides testify-based mocks of the client's collaborator interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/retry"
)

// MockTransport provides a testify-based mock implementation of retry.Transport.
//
// Example usage:
//
//	m := &mocks.MockTransport{}
//	m.ExpectSendPath("/api/v1/usage/u-1", &retry.Reply{StatusCode: 503}, nil).Once()
//	m.ExpectSendAny(&retry.Reply{StatusCode: 200}, nil)
type MockTransport struct {
	mock.Mock
}

// Send implements retry.Transport
func (m *MockTransport) Send(ctx context.Context, rc middleware.RequestContext) (*retry.Reply, error) {
	arguments := m.Called(ctx, rc)

	var reply *retry.Reply
	if r := arguments.Get(0); r != nil {
		reply = r.(*retry.Reply)
	}
	return reply, arguments.Error(1)
}

// ExpectSendAny sets up a send expectation matching any request
func (m *MockTransport) ExpectSendAny(reply *retry.Reply, err error) *mock.Call {
	return m.On("Send", mock.Anything, mock.Anything).Return(reply, err)
}

// ExpectSendPath sets up a send expectation for requests to path
func (m *MockTransport) ExpectSendPath(path string, reply *retry.Reply, err error) *mock.Call {
	return m.On("Send", mock.Anything, mock.MatchedBy(func(rc middleware.RequestContext) bool {
		return rc.Request.Path == path
	})).Return(reply, err)
}

// ExpectSendAttempt sets up a send expectation for one retry attempt of any request
func (m *MockTransport) ExpectSendAttempt(attempt int, reply *retry.Reply, err error) *mock.Call {
	return m.On("Send", mock.Anything, mock.MatchedBy(func(rc middleware.RequestContext) bool {
		return rc.Attempt == attempt
	})).Return(reply, err)
}

// SentRequests returns the request contexts passed to Send, in call order
func (m *MockTransport) SentRequests() []middleware.RequestContext {
	var out []middleware.RequestContext
	for _, call := range m.Calls {
		if call.Method != "Send" {
			continue
		}
		if rc, ok := call.Arguments.Get(1).(middleware.RequestContext); ok {
			out = append(out, rc)
		}
	}
	return out
}
