// Package registry resolves and executes marketplace tools. It merges the
// platform-owned built-in catalog with provider-submitted tools persisted in
// the store, with built-ins taking precedence on id collisions. Execution
// dispatches on the tool source: built-ins return data directly, provider
// tools are proxied to their external endpoint.
package registry
