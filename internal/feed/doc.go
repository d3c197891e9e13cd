// Package feed provides the in-memory fan-out broadcaster that mirrors
// conversation activity to connected operator consoles in near-real-time.
package feed
