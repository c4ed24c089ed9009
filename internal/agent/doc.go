// Package agent implements the scheduling core of the platform: a generic
// Agent wrapper that gives any Executor a lifecycle (idle/running/paused/
// error), a run counter, interval and cron timers, and event broadcasting,
// plus a Scheduler that owns a registry of agents and fans lifecycle events
// out to process-level subscribers. Concrete agents such as the stablecoin
// monitor plug in through the Executor/Initializer/Cleaner capability
// interfaces.
package agent
