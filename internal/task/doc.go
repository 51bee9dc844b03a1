// Package task defines the task-request model, its status and reminder
// graphs, and the ports the workflow uses to reach the document store,
// the messaging service and the clock.
//
// The package also ships the store decorators every deployment stacks
// in front of a real backend:
//
//	store := task.NewCachedStore(task.WithTimeouts(backend, 10*time.Second), 1024, time.Minute)
//
// MemoryStore is a complete in-process Store used by tests and the
// "memory" driver.
package task
