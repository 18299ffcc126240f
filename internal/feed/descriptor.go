package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ContextPlaceholder is substituted with the feed's context key in Path.
const ContextPlaceholder = "{context}"

// Decoder validates a raw response body and shapes it into the feed's
// snapshot type. Every call must return a fresh value; snapshots are never
// mutated after they are produced.
type Decoder func(raw []byte) (any, error)

// Descriptor identifies one server-backed data stream.
type Descriptor struct {
	Key      string
	Path     string // may contain {context}, e.g. /positions/{context}/history
	Interval time.Duration
	Decode   Decoder
}

// Parameterized reports whether the path needs a context key.
func (d Descriptor) Parameterized() bool {
	return strings.Contains(d.Path, ContextPlaceholder)
}

// Resolve expands the path template for the given context key.
func (d Descriptor) Resolve(contextKey string) (string, error) {
	if !d.Parameterized() {
		return d.Path, nil
	}
	if contextKey == "" {
		return "", ErrMissingContext
	}
	return strings.ReplaceAll(d.Path, ContextPlaceholder, url.PathEscape(contextKey)), nil
}

// Validate checks the descriptor before it is registered.
func (d Descriptor) Validate() error {
	if d.Key == "" {
		return errors.New("feed key is required")
	}
	if !strings.HasPrefix(d.Path, "/") {
		return fmt.Errorf("feed %s: path must start with /", d.Key)
	}
	if d.Interval <= 0 {
		return fmt.Errorf("feed %s: interval must be positive", d.Key)
	}
	if d.Decode == nil {
		return fmt.Errorf("feed %s: decoder is required", d.Key)
	}
	return nil
}

// Shape is the expected top-level JSON type of a payload.
type Shape int

const (
	AnyShape Shape = iota
	ObjectShape
	ArrayShape
)

func (s Shape) String() string {
	switch s {
	case ObjectShape:
		return "object"
	case ArrayShape:
		return "array"
	default:
		return "any"
	}
}

// JSONDecoder checks the payload is valid JSON of the expected shape and
// unmarshals it into a new T.
func JSONDecoder[T any](shape Shape) Decoder {
	return func(raw []byte) (any, error) {
		if !gjson.ValidBytes(raw) {
			return nil, errors.New("payload is not valid JSON")
		}
		root := gjson.ParseBytes(raw)
		// The bot API answers {"error": "..."} with status 200 on some failures
		if msg, ok := serverError(root); ok {
			return nil, fmt.Errorf("server reported error: %s", msg)
		}
		switch shape {
		case ObjectShape:
			if !root.IsObject() {
				return nil, fmt.Errorf("expected %s payload, got %s", shape, describe(root))
			}
		case ArrayShape:
			if !root.IsArray() {
				return nil, fmt.Errorf("expected %s payload, got %s", shape, describe(root))
			}
		}

		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return out, nil
	}
}

// serverError detects an object whose only member is a string "error".
func serverError(root gjson.Result) (string, bool) {
	if !root.IsObject() {
		return "", false
	}
	members := root.Map()
	msg, ok := members["error"]
	if !ok || len(members) != 1 || msg.Type != gjson.String {
		return "", false
	}
	return msg.String(), true
}

func describe(root gjson.Result) string {
	switch {
	case root.IsObject():
		return "object"
	case root.IsArray():
		return "array"
	default:
		return root.Type.String()
	}
}
