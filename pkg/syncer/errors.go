package syncer

import "errors"

var (
	ErrNilEntry     = errors.New("syncer: entry is nil")
	ErrNilTransport = errors.New("syncer: transport is nil")
	ErrNilHandler   = errors.New("syncer: handler is nil")
	ErrClosed       = errors.New("syncer: closed")
)
