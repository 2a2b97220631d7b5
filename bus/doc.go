// Package bus provides the in-process implementation of core.Bus: topic based
// publish/subscribe plus the agent registry.
//
// Delivery is synchronous and ordered. Publish invokes the topic's handlers in
// subscription order on the caller's goroutine; a panicking handler is
// recovered and logged without affecting later subscribers or the publisher.
// Handlers that need to do real work should hand the event off to their own
// goroutine or queue, which is exactly what the runtime package does.
//
// For meshes spanning processes, see the redisbus subpackage.
package bus
