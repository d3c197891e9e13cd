// ABOUTME: Package console is the operator HTTP API: conversation list,
// ABOUTME: history, operator sends, handoff control, and the live feed socket.
//
// Package console exposes the back-office surface under /console/api.
// All routes require the static bearer token; the feed endpoint
// upgrades to a WebSocket and streams broadcaster events as JSON.
package console
