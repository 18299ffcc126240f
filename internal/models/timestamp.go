package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// timestampLayouts are tried in order. The bot serializes naive datetimes
// with isoformat(), which carries no zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp is a time that accepts the API's timestamp formats. Naive values
// are read as UTC. Numbers are Unix epochs in seconds or milliseconds.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses any supported layout.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unsupported timestamp %q", s)
}

// epochMillisThreshold separates millisecond epochs from second epochs; as
// seconds it lies in the year 33658.
const epochMillisThreshold = 1e12

// FromEpoch converts a Unix epoch in seconds or milliseconds to UTC.
func FromEpoch(epoch float64) Timestamp {
	if math.Abs(epoch) >= epochMillisThreshold {
		return Timestamp{time.UnixMilli(int64(epoch)).UTC()}
	}
	sec, frac := math.Modf(epoch)
	return Timestamp{time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		var epoch float64
		if err := json.Unmarshal(data, &epoch); err != nil {
			return fmt.Errorf("timestamp must be a string or a number: %w", err)
		}
		*t = FromEpoch(epoch)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string or a number: %w", err)
	}
	if s == "" {
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
