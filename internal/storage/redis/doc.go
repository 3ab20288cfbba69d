// Package redis offers rate limiting primitives for the marketplace runtime.
// Limits degrade to fail-open when Redis is unavailable so that a cache outage
// never blocks paying callers.
package redis
