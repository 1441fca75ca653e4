// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// Usage:
//
//	h := shutdown.NewHandler(15 * time.Second)
//	h.OnShutdown("scheduler", sched.Stop)
//	h.OnShutdown("storage", func(context.Context) error { return kv.Close() })
//	err := h.Wait(ctx)
//
// Hooks run in reverse registration order under one shared timeout.
package shutdown
