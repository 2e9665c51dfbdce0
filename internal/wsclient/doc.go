// Package wsclient implements the consumer side of the realtime update
// channel: a reconnect manager that presents one logical connection over an
// ephemeral physical socket.
//
// The manager re-establishes dropped connections with linearly capped
// backoff, sends heartbeats on its own timer, queues outbound messages with
// priority while disconnected, and flushes them in order on reconnect.
// Subscriptions are tracked and re-asserted after every reconnect.
package wsclient
