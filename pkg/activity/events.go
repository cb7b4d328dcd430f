package activity

import (
	"strings"
	"time"
)

const (
	VerbLoaded = "stash.loaded"
	VerbSaved  = "stash.saved"
	VerbSynced = "stash.synced"

	ObjectTypeEntry = "stash.entry"
)

// EntryEventInput describes the common fields for stash entry events.
type EntryEventInput struct {
	Origin     string
	Area       string
	Key        string
	Version    uint64
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildLoadedEvent constructs an event for a completed load.
func BuildLoadedEvent(input EntryEventInput) Event {
	return buildEntryEvent(VerbLoaded, input)
}

// BuildSavedEvent constructs an event for a persisted write.
func BuildSavedEvent(input EntryEventInput) Event {
	return buildEntryEvent(VerbSaved, input)
}

// BuildSyncedEvent constructs an event for a remote change applied locally.
func BuildSyncedEvent(input EntryEventInput) Event {
	return buildEntryEvent(VerbSynced, input)
}

func buildEntryEvent(verb string, input EntryEventInput) Event {
	metadata := cloneMap(input.Metadata)
	area := strings.TrimSpace(input.Area)
	key := strings.TrimSpace(input.Key)
	if area != "" {
		metadata = ensureMetadata(metadata)
		metadata["area"] = area
	}
	if key != "" {
		metadata = ensureMetadata(metadata)
		metadata["key"] = key
	}
	if input.Version > 0 {
		metadata = ensureMetadata(metadata)
		metadata["version"] = input.Version
	}

	objectID := key
	if area != "" && key != "" {
		objectID = area + "/" + key
	}
	if objectID == "" {
		objectID = ObjectTypeEntry
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.Origin),
		ObjectType: ObjectTypeEntry,
		ObjectID:   objectID,
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
