// Package web3 houses blockchain connectivity utilities for the stablecoin
// monitoring pipeline: read-only RPC clients, ERC-20 Transfer log parsing,
// total-supply queries, and multi-chain configuration helpers for supported
// networks such as Ethereum, BSC, and Polygon.
package web3
