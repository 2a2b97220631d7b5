// Package redisstore persists task updates, agent context snapshots and the
// event journal in Redis, implementing the storage interfaces from core with
// durable counterparts to the in-memory stores.
package redisstore
