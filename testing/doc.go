// Package testing provides test doubles for code built on the cost-ops client.
//
// The mocks subpackage holds a testify-based retry.Transport. The fixtures subpackage
// builds canned replies, scripted transports and a recording sleeper so retry
// behavior can be asserted without real HTTP servers or real waits.
//
//	transport := fixtures.Sequence(
//		fixtures.StatusReply(503),
//		fixtures.JSONReply(200, map[string]string{"id": "u-1"}),
//	)
//	sleeper := &fixtures.RecordingSleeper{}
//	client, _ := costops.NewBuilder(log).WithTransport(transport).WithSleeper(sleeper.Sleep).Build()
package testing
