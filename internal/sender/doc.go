// Package sender runs the per-device background level senders.
//
// A device is either Idle or Running. Start on a running device and Stop
// on an idle one are no-ops. Each running device has exactly one worker
// goroutine:
//
//	loop:
//	    level    ← registry.RuntimeConfig(serial).Level
//	    publish  set-level command, emit "Background sender: Set power level N"
//	    interval ← registry.RuntimeConfig(serial).Interval()
//	    sleep    interval (cancellable)
//
// Stop cancels the worker's context and blocks until the worker has
// exited, so a following Start can never overlap the old worker.
//
// Publish failures are reported as events and the loop carries on. Retries
// happen only when a RetryPolicy is configured.
package sender
