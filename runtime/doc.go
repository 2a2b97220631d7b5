// Package runtime hosts a single agent on a bus: it accepts commands on the
// agent's command topic, queues them by priority, executes them one at a time
// through pluggable handlers and reports every lifecycle transition back as
// events.
//
// A Runtime is constructed around a Config and a core.Bus, with stores,
// handlers and tuning injected through functional options:
//
//	rt, err := runtime.New(runtime.Config{AgentID: "worker-1"}, busInstance, func(o *runtime.Options) {
//		o.Handlers = map[string]core.Handler{"echo": handler.NewEcho()}
//		o.TaskStore = store
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := rt.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Stop(ctx)
//
// Execution follows the task state machine in core: accepted commands run in
// priority order (FIFO on ties), failed attempts retry up to MaxRetries, and
// results pass a validation hook before a task completes. Stop halts intake
// immediately and gives the in-flight handler a bounded drain window before
// cancelling its context.
package runtime
