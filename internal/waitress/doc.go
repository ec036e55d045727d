// Package waitress correlates requests with the responses that answer them.
//
// A caller registers a waiter with a matcher value before sending a request,
// arms it with Start, and blocks on the returned Wait. Incoming payloads are
// offered to Resolve (or Reject), which settles every waiter whose matcher
// the shared validator accepts. A waiter that sees no match before its
// timeout fails with a *TimeoutError built by the formatter.
//
//	w := waitress.New[*protocol.Frame, *protocol.Frame](matchSRSP, describe)
//	handle := w.WaitFor(request, 6*time.Second)
//	wait := handle.Start()
//	defer wait.Cancel()
//	response, err := wait.Wait(ctx)
//
// Each waiter settles at most once. Remove (or Wait.Cancel) evicts a waiter
// without settling it and stops its timer.
package waitress
