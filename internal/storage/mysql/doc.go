// Package mysql provides the MySQL-backed marketplace store. It encapsulates
// schema initialization and strongly typed queries for agents, providers,
// tools, payments, and usage logs, with payment idempotency enforced by a
// unique index on the transaction hash.
package mysql
