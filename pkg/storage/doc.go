// Package storage defines the persistence-facing contract consumed by
// stash.Helper plus the in-memory implementation used by tests and by the
// background role when no durable backend is configured.
//
// Responsibilities:
//   - Adapter only gets/sets/removes one JSON-shaped value per key.
//   - Adapters never interpret values; versioning, migrations and merging
//     live in the stash and syncer packages.
//   - A missing key is reported as (nil, nil), never as an error.
//
// Durable backends live in sub packages (storage/sqlite, storage/file); the
// message round-trip adapter used by content contexts lives in
// transport/relay.
package storage
