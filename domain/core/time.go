package core

import (
	"strings"
	"time"
)

// Timestamp represents a point in time with timezone awareness
type Timestamp time.Time

// gatewayLayout is the timestamp format the history store emits.
const gatewayLayout = "2006-01-02 15:04:05"

// NewTimestamp creates a new timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t)
}

// ParseTimestamp accepts either the history store layout or RFC 3339.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(gatewayLayout, s, time.Local); err == nil {
		return Timestamp(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp(t), nil
}

// Time returns the underlying time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// IsZero checks if the timestamp is zero
func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// String renders the timestamp in the history store layout.
func (t Timestamp) String() string {
	return time.Time(t).Format(gatewayLayout)
}

// JSON marshaling for Timestamp
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var tm time.Time
	if err := tm.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = Timestamp(tm)
	return nil
}
