// ABOUTME: Package gateway ties webhook events to the dialogue engine and the
// ABOUTME: dispatcher: dedupe, per-recipient serialization, persistence, feed.
//
// Package gateway is the orchestration layer. It parses channel webhook
// payloads into normalized events, drops duplicates and malformed
// events, serializes turns per recipient, runs the dialogue engine, and
// fans the results out to the dispatcher, the message ledger, and the
// live feed.
package gateway
