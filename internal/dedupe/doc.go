// Package dedupe drops repeated deliveries of the same inbound message.
//
// Webhook transports retry deliveries they consider unacknowledged, and
// socket transports may replay recent messages after a reconnect.
package dedupe
