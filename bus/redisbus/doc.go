// Package redisbus implements core.Bus on Redis so a mesh can span processes.
//
// Events travel over Redis Pub/Sub channels named after their topics; the
// agent registry is stored as JSON values under <prefix>:registry:<agent_id>.
// Subscriptions survive transient Redis outages through exponential backoff on
// the receive path.
//
// Unlike the in-process bus, delivery is asynchronous: Publish returns once
// Redis accepted the message, and handlers run on per-subscription receive
// goroutines.
package redisbus
