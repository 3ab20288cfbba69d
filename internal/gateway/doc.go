// Package gateway exposes the marketplace over HTTP: the paid tool execution
// protocol (402 challenge, on-chain verification, idempotent payment capture),
// agent and provider registration, the anonymous flat-priced data endpoints,
// the read-only analytics surface and the demo agent websocket stream.
package gateway
