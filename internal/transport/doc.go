// Package transport abstracts the outbound messaging channel. The core
// depends only on the Sender interface; the production implementation
// talks to a WhatsApp Cloud style HTTP API.
package transport
