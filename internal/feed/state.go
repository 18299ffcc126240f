package feed

import (
	"encoding/json"
	"time"
)

// FeedState is the read-only view of one feed handed to consumers. Snapshot
// holds the last accepted payload and is replaced wholesale on every accepted
// update; consumers must treat it as immutable.
type FeedState struct {
	Key            string    `json:"key"`
	ContextKey     string    `json:"context_key,omitempty"`
	Snapshot       any       `json:"snapshot"`
	Loading        bool      `json:"loading"`
	Err            error     `json:"-"`
	ErrorKind      ErrorKind `json:"error_kind"`
	LastAcceptedAt time.Time `json:"last_accepted_at"`
	Sequence       uint64    `json:"sequence"`
	Generation     uint64    `json:"generation"`
}

// HasSnapshot reports whether a successful result was ever accepted for the
// current context.
func (s FeedState) HasSnapshot() bool {
	return s.Snapshot != nil
}

// Errored reports whether the latest accepted attempt failed.
func (s FeedState) Errored() bool {
	return s.Err != nil
}

// ErrorMessage returns the error text, or "" when healthy.
func (s FeedState) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// SnapshotAs returns the state's snapshot as T.
func SnapshotAs[T any](s FeedState) (T, bool) {
	v, ok := s.Snapshot.(T)
	return v, ok
}

// MarshalJSON adds the error text, which the error value itself cannot carry.
func (s FeedState) MarshalJSON() ([]byte, error) {
	type plain FeedState
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(s), s.ErrorMessage()})
}
