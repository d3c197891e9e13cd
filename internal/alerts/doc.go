// Package alerts publishes advisor notifications (handoff requests and
// checkout leads) to a RabbitMQ topic exchange consumed by the back
// office. When no broker is configured a no-op fallback is used.
package alerts
