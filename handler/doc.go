// Package handler ships ready-made implementations of the core.Handler
// interface: Echo for wiring smoke tests, Sleep for simulating long work with
// progress reporting, and Completion for model-backed text generation.
//
// Handlers are registered on a runtime keyed by task type:
//
//	rt, _ := runtime.New(cfg, busInstance, func(o *runtime.Options) {
//		o.Handlers = map[string]core.Handler{
//			"echo":     handler.NewEcho(),
//			"generate": handler.NewCompletion(m),
//		}
//	})
//
// All handlers follow the tagged-result contract: (result, nil) on success,
// (nil, err) on a failure that counts against the task's retry budget.
package handler
