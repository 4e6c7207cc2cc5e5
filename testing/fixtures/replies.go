// Package fixtures builds canned transport replies and scripted collaborators for tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/retry"
)

// Content type constants
const (
	ContentTypeHeader          = "Content-Type"
	ApplicationJSONContentType = "application/json"
)

// StatusReply returns an empty-bodied reply with the given status
func StatusReply(status int) *retry.Reply {
	return &retry.Reply{StatusCode: status, Header: nethttp.Header{}}
}

// JSONReply returns a reply whose body is v encoded as JSON.
// It panics when v cannot be encoded.
func JSONReply(status int, v any) *retry.Reply {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fixtures: cannot encode reply body: %v", err))
	}
	reply := StatusReply(status)
	reply.Header.Set(ContentTypeHeader, ApplicationJSONContentType)
	reply.Body = body
	return reply
}

// RateLimitedReply returns a 429 reply carrying a Retry-After header
func RateLimitedReply(retryAfter string) *retry.Reply {
	reply := StatusReply(nethttp.StatusTooManyRequests)
	if retryAfter != "" {
		reply.Header.Set(apierror.HeaderRetryAfter, retryAfter)
	}
	return reply
}

// Step is one scripted transport outcome
type Step struct {
	Reply *retry.Reply
	Err   error
}

// ScriptedTransport replays its steps in order, repeating the last one
type ScriptedTransport struct {
	steps []Step
	calls atomic.Int32

	mu   sync.Mutex
	seen []middleware.RequestContext
}

// Sequence scripts a transport from replies
func Sequence(replies ...*retry.Reply) *ScriptedTransport {
	steps := make([]Step, len(replies))
	for i, r := range replies {
		steps[i] = Step{Reply: r}
	}
	return Script(steps...)
}

// Script scripts a transport from replies and transport errors
func Script(steps ...Step) *ScriptedTransport {
	if len(steps) == 0 {
		steps = []Step{{Reply: StatusReply(nethttp.StatusOK)}}
	}
	return &ScriptedTransport{steps: steps}
}

// Send implements retry.Transport
func (s *ScriptedTransport) Send(_ context.Context, rc middleware.RequestContext) (*retry.Reply, error) {
	n := int(s.calls.Add(1)) - 1

	s.mu.Lock()
	s.seen = append(s.seen, rc)
	s.mu.Unlock()

	step := s.steps[min(n, len(s.steps)-1)]
	if step.Err != nil {
		return nil, step.Err
	}
	out := *step.Reply
	out.Header = step.Reply.Header.Clone()
	return &out, nil
}

// Calls returns how many times Send ran
func (s *ScriptedTransport) Calls() int { return int(s.calls.Load()) }

// Seen returns the request contexts passed to Send, in call order
func (s *ScriptedTransport) Seen() []middleware.RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]middleware.RequestContext(nil), s.seen...)
}

// RecordingSleeper captures requested backoff delays without waiting
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep satisfies retry.Sleeper; it only fails when ctx is already done
func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded delays in order
func (r *RecordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
