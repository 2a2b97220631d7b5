// Package core provides the foundational domain types, interfaces and execution
// contexts used by TaskMesh. It defines the core abstractions for:
//
//   - Events (immutable publish/subscribe records with correlation metadata)
//   - TaskMessages (prioritized work items with a forward-only status machine)
//   - AgentContext (per-agent operational state snapshot)
//   - Bus (topic routing plus the agent registry)
//   - Handlers / TaskContext (pluggable command execution & its sandbox)
//   - Pluggable stores for task lifecycle updates, context snapshots and event
//     journaling, and the result validation hook
//
// The package intentionally keeps implementation concerns (bus transports,
// queue/processor mechanics, concrete stores) out of scope, exposing small
// interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core
