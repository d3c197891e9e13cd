// Package dispatch delivers outbound messages through per-recipient
// serialized queues, guaranteeing in-order sends and a minimum
// inter-send delay for each recipient.
package dispatch
