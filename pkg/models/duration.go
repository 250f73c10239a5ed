package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a delay length. It unmarshals from either a bare JSON number
// (milliseconds) or a duration string such as "45s", "2h30m" or "3d"; both
// shapes appear in authored workflows.
type Duration time.Duration

// ParseDuration parses a duration string, extending time.ParseDuration with a
// leading day component ("3d", "1d12h").
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}

	var days int64

	if idx := strings.IndexByte(s, 'd'); idx > 0 {
		if n, err := strconv.ParseInt(s[:idx], 10, 64); err == nil {
			days = n
			s = s[idx+1:]
		}
	}

	var rest time.Duration

	if s != "" {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}

		rest = parsed
	}

	return Duration(time.Duration(days)*24*time.Hour + rest), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil {
		*d = Duration(time.Duration(millis) * time.Millisecond)

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be milliseconds or a duration string: %w", err)
	}

	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}
