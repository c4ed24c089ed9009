// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema migrations, connection pooling, and strongly typed
// queries for persisting chain events, anomaly alerts, supply snapshots, and
// per-cycle monitor statistics. A file-backed in-memory repository with the
// same interface supports development and tests.
package mysql
