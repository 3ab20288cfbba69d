// Package web3 houses blockchain connectivity utilities for the marketplace:
// RPC clients, multi-chain configuration helpers, and the narrow read/write
// surface the payment layer needs. Settlement happens in an ERC-20 stablecoin,
// so the package standardizes on receipt lookups, token transfers, and
// confirmation waits across supported networks such as Base and Ethereum.
package web3
