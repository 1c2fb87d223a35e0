package timespec

import (
	"fmt"
	"time"
)

// Range bounds note creation timestamps in Unix milliseconds, matching the
// timestamp fields the canvas stores. A zero field means that end of the
// range is unbounded.
type Range struct {
	SinceMs int64
	UntilMs int64
}

// Parse turns a time specification into a Unix timestamp in milliseconds.
// Two formats are accepted:
//   - Go duration format: "2h", "30m", "1h30m" (relative, counted back from now)
//   - RFC3339 timestamps: "2026-08-30T09:00:00Z"
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or RFC3339 like '2026-08-30T09:00:00Z')", spec)
}

// ParseRange parses the --since and --until flag values into a Range.
func ParseRange(since, until string) (Range, error) {
	var r Range
	var err error

	if since != "" {
		r.SinceMs, err = Parse(since)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		r.UntilMs, err = Parse(until)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.SinceMs > 0 && r.UntilMs > 0 && r.SinceMs >= r.UntilMs {
		return Range{}, fmt.Errorf("--since must be before --until")
	}

	return r, nil
}
