// Package llm contains adapters for invoking large language models to triage
// anomaly alerts. It abstracts away provider-specific APIs and adds tenant
// attribution around every call.
package llm
