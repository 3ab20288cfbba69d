// Package payment implements stablecoin settlement for tool calls. The
// verifier inspects a mined transaction and decides whether it constitutes a
// valid payment for a given price; the payer issues transfers on behalf of
// the demo agent. Verification is stateless so that idempotency can be
// enforced by storage alone.
package payment
