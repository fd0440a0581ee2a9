package gateway

import "sync/atomic"

// LimitRequestCount wraps app so that on the maxRequests-th call the
// supplied onLimit callback fires (normally setting the worker's
// graceful-exit flag), mirroring the original's `LimitRequestCountMiddleware`.
// The app itself is still invoked for every call; onLimit fires once, from
// within the call that reached the count, before app runs for that call.
func LimitRequestCount(app App, maxRequests int64, onLimit func()) App {
	var count int64
	var fired int32

	return func(env *Environ, start StartResponseFunc) (BodyChunks, error) {
		n := atomic.AddInt64(&count, 1)
		if n >= maxRequests {
			if atomic.CompareAndSwapInt32(&fired, 0, 1) {
				onLimit()
			}
		}
		return app(env, start)
	}
}
