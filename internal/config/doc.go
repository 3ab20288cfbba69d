// Package config loads the ChainBazaar runtime configuration from a JSON
// file and fills in sensible defaults. Secrets such as LLM keys and the demo
// wallet private key can be redirected to environment variables so they never
// land in the configuration file itself.
package config
