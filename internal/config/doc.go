// Package config loads the daemon configuration from a JSON file and applies
// defaults plus baseDir-relative path resolution. It covers logging, chain
// endpoints, detection thresholds, deduplication, storage, notification, LLM
// triage, auth, and plugin settings for the stablecoin monitor.
package config
