// Package stash provides Helper, a typed state container that persists itself
// through a storage.Adapter and exposes its value as an observable cell.
//
// A Helper owns exactly one in-memory value per key. It loads once (unless
// forced), runs the configured migrate.Pipeline over the raw persisted value,
// merges the result into its current state and from then on persists every
// non-silent mutation. Silent writes are the inbound path used by
// syncer.Syncer: they update the value and notify subscribers but never reach
// the adapter.
//
// Registry replaces process-wide helper maps: the composition root owns one
// and passes it where needed.
package stash
