// Package syncer keeps the helpers for one logical key eventually consistent
// across execution contexts that share a storage backend but no memory.
//
// Every successful local save bumps a version counter persisted under
// VersionKey(key) and broadcasts a Message over a Transport. Receivers drop
// messages for other keys, their own echoes and anything not strictly newer
// than the last version they applied or produced; everything else is applied
// through the helper's silent path so it is never saved or re-broadcast.
//
// Concurrent writers are resolved last-writer-wins by version. Two contexts
// sharing one origin id cannot tell their messages apart and will drop each
// other's updates.
package syncer
