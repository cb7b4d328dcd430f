package stash

import "time"

// LoadEvent describes one completed fetch.
type LoadEvent struct {
	Key          string
	Area         string
	Found        bool
	Duration     time.Duration
	Err          error
	MigrationErr error
}

// SaveEvent describes one persistence attempt.
type SaveEvent struct {
	Key      string
	Area     string
	Duration time.Duration
	Err      error
}

// Observer receives load and save outcomes. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveLoad(LoadEvent)
	ObserveSave(SaveEvent)
}

type nopObserver struct{}

func (nopObserver) ObserveLoad(LoadEvent) {}
func (nopObserver) ObserveSave(SaveEvent) {}
