package stash

import "errors"

var (
	// ErrKeyRequired is returned by New when the key is blank.
	ErrKeyRequired = errors.New("stash: key is required")
	// ErrDuplicateEntry is returned by Registry.Register for an area/key pair
	// that is already registered.
	ErrDuplicateEntry = errors.New("stash: entry already registered")
	// ErrNilEntry is returned by Registry.Register for a nil entry.
	ErrNilEntry = errors.New("stash: entry is nil")
	// ErrDecoderType is returned by New when WithValidator or WithDecodeFunc
	// was instantiated for a different value type.
	ErrDecoderType = errors.New("stash: decoder option type mismatch")
)
