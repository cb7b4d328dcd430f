package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// VersionSuffix is appended to a key to form its version companion key.
const VersionSuffix = "@version"

// Message is one broadcast change.
type Message struct {
	Key     string `json:"key"`
	Area    string `json:"area"`
	State   any    `json:"state"`
	Version uint64 `json:"version"`
	Origin  string `json:"origin"`
}

// Transport delivers messages to every other context. Delivery may be
// duplicated, reordered or looped back to the sender.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(handler func(Message)) (cancel func(), err error)
}

// VersionKey returns the storage key holding the version counter for key.
func VersionKey(key string) string {
	return key + VersionSuffix
}

// ParseVersion reads a persisted version counter. Missing values are 0.
func ParseVersion(raw any) (uint64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("syncer: negative version %v", v)
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("syncer: negative version %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("syncer: negative version %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case string:
		return strconv.ParseUint(v, 10, 64)
	default:
		return 0, fmt.Errorf("syncer: unsupported version type %T", raw)
	}
}
