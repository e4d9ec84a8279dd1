// Package storage persists what wikicron wants to remember across restarts.
//
// It currently supports:
//   - Run history appends (one record per attempted page edit)
//   - Alert dedup state for the notifier
//
// Schedule state is deliberately absent: next-run instants are recomputed
// from the config on every start.
package storage
