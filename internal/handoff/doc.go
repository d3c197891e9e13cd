// Package handoff arbitrates between automated replies and a live human
// operator using a per-user expiring window.
package handoff
