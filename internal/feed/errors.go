package feed

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a feed or action failed.
type ErrorKind int

const (
	// NoError marks a healthy FeedState.
	NoError ErrorKind = iota
	// NetworkError covers unreachable hosts, transport failures and non-2xx responses.
	NetworkError
	// DecodeError means the server answered 2xx with a payload the feed cannot use.
	DecodeError
	// ActionError is a user-triggered mutation the server reported as failed.
	ActionError
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "none"
	case NetworkError:
		return "network_error"
	case DecodeError:
		return "decode_error"
	case ActionError:
		return "action_error"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// MarshalText lets ErrorKind appear as a readable string in JSON views.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	for _, candidate := range []ErrorKind{NoError, NetworkError, DecodeError, ActionError} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

var (
	ErrAlreadyStarted = errors.New("feed source already started")
	ErrStopped        = errors.New("feed source stopped")
	ErrMissingContext = errors.New("parameterized feed requires a context key")
	ErrUnknownFeed    = errors.New("unknown feed")
	ErrDuplicateFeed  = errors.New("feed already registered")
	ErrDisposed       = errors.New("feed registry disposed")
)

// FetchError is the typed failure produced by a Fetcher.
type FetchError struct {
	Kind       ErrorKind
	Feed       string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (http %d): %v", e.Feed, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Feed, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind of err. Errors that are not FetchErrors are
// treated as network failures since they never produced a usable response.
func KindOf(err error) ErrorKind {
	if err == nil {
		return NoError
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return NetworkError
}

func networkError(feed string, status int, err error) *FetchError {
	return &FetchError{Kind: NetworkError, Feed: feed, StatusCode: status, Err: err}
}

func decodeError(feed string, err error) *FetchError {
	return &FetchError{Kind: DecodeError, Feed: feed, Err: err}
}
