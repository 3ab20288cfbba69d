// Package orchestrator drives the autonomous demo agent: a per-session state
// machine that registers an agent, lets a language model pick one paid tool,
// pays for it on chain, fetches the data and streams every step to the
// attached observers.
package orchestrator
