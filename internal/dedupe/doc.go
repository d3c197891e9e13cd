// Package dedupe provides webhook event deduplication using a bounded
// FIFO cache of recently seen event ids.
package dedupe
