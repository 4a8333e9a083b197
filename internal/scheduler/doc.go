// Package scheduler is the tick-driven task core.
//
// A tick source calls Dispatch once per period. Dispatch walks the registered
// tasks in registration order, adds the period to every started task's
// accumulator and runs the task's callback inline once the accumulator reaches
// the task timeout. Periodic tasks re-arm, one-shot tasks stop.
//
// Time only advances through Dispatch: the scheduler has no clock of its own and
// never corrects for ticks the source skipped or delivered late.
//
// # Concurrency contract
//
// Dispatch and the task-control operations share the registry and the task
// control fields. Config.Guard is held around every one of them:
//
//   - nil Guard: no locking. Dispatch and control calls must come from one
//     goroutine (the cooperative, single-thread setup).
//   - non-nil Guard (e.g. &sync.Mutex{}): the tick source may run on its own
//     goroutine; control calls wait for an in-flight Dispatch to finish.
//
// Callbacks and OnFire run inside Dispatch with the guard held. They must be
// short, must not block and must not call back into Register/Unregister/
// Start/Stop/Reinit/Restart/Init/Deinit. With a nil Guard such calls fail with
// ErrReentrant; with a mutex Guard they deadlock. The guarded reads
// (Registered, Initialized, Tasks, Snapshot) deadlock the same way and are
// off limits too.
//
// Status, Elapsed, Fires, Ticks and Period read atomics without the guard and
// may be called from anywhere, callbacks included.
package scheduler
