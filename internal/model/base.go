package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TimestampLayout is how every timestamp column is stored and rendered.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a wall-clock time in the clinic timezone. It is persisted as
// TEXT so sqlite and postgres rows read back identically.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

func (t Timestamp) String() string {
	return t.Format(TimestampLayout)
}

func (t Timestamp) Value() (driver.Value, error) {
	return t.Format(TimestampLayout), nil
}

func (t *Timestamp) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// postgres drivers may hand back RFC3339 for legacy timestamp columns
		if parsed, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	return t.parse(s[1 : len(s)-1])
}
