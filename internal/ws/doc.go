// Package ws implements the server side of the realtime update channel.
//
// The package implements:
//   - Message: the wire envelope and its closed vocabulary of payload kinds
//   - Session: per-connection state with independent read and write pumps
//   - Hub: the single control loop owning the session registry, topic-filtered
//     fan-out with drop-newest backpressure, and the liveness sweep
//   - Handler: connection admission (token check, client identifier) and the
//     HTTP-to-WebSocket upgrade
//
// Producers publish through Hub.PublishAgentStatus and
// Hub.PublishTransactionUpdate; the hub relays payloads as opaque data and
// never interprets them beyond the topic used for filtering.
package ws
