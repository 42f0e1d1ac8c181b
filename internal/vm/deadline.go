package vm

import (
	"sync/atomic"
	"time"
)

// Deadline is a cooperative wall-clock watchdog. It cannot preempt a running
// guest mid-instruction (wasmer-go gives no such hook), so it instead flips
// a flag that every host-call boundary checks before doing any work - the
// guest is unwound the next time it crosses into host code, per spec §5.
type Deadline struct {
	expired atomic.Bool
	timer   *time.Timer
}

// Arm starts a watchdog that expires after d. Call Stop when the execution
// finishes early to release the timer.
func Arm(d time.Duration) *Deadline {
	dl := &Deadline{}
	dl.timer = time.AfterFunc(d, func() { dl.expired.Store(true) })
	return dl
}

// Check returns errDeadlineExceeded once the watchdog has fired.
func (d *Deadline) Check() error {
	if d.expired.Load() {
		return errDeadlineExceeded
	}
	return nil
}

// Stop cancels the underlying timer.
func (d *Deadline) Stop() {
	d.timer.Stop()
}
