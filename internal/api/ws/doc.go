// Package ws streams trace lifecycle events to WebSocket subscribers.
//
// Each connection gets a subscriber id and a bounded send queue. A slow
// subscriber loses events rather than slowing the tracer.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: Connected, carries subscriber_id
//   - trace_event: One lifecycle event
//   - pong: Reply to ping
//   - error: Unknown message type
//
// Query parameters narrow the stream: process=<instance> and
// kind=<begun|stage|completed|incomplete|evicted>.
//
// Example Usage:
//
//	handler := ws.NewHandler(bus, metrics, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
