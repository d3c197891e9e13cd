// Package session holds per-user conversation state and its persistence.
// Sessions live in memory while active and are snapshotted to durable
// per-id records with a sliding TTL, so state survives process restarts.
package session
