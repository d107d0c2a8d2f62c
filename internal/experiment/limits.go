package experiment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Jawbreaker1/pabench/internal/job"
)

const (
	DefaultTimeLimit = "1y"
	DefaultMemLimit  = "1000TiB"
)

var (
	durationPart = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zµ]+)`)
	unitSeconds  = map[string]float64{
		"ns": 1e-9, "us": 1e-6, "µs": 1e-6, "ms": 1e-3,
		"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
		"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
		"h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,
		"d": 86400, "day": 86400, "days": 86400,
		"w": 7 * 86400, "week": 7 * 86400, "weeks": 7 * 86400,
		"y": 365 * 86400, "year": 365 * 86400, "years": 365 * 86400,
	}
)

// ParseTimeLimit parses a cpu time limit such as "30s", "1h30m", "2 days"
// or "1y" into whole seconds (rounded up). A bare number is seconds.
func ParseTimeLimit(s string) (job.Seconds, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty time limit")
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative time limit %q", s)
		}
		return job.Seconds((d + time.Second - 1) / time.Second), nil
	}
	matches := durationPart.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid time limit %q", s)
	}
	var total float64
	end := 0
	for _, m := range matches {
		if strings.TrimSpace(s[end:m[0]]) != "" {
			return 0, fmt.Errorf("invalid time limit %q", s)
		}
		value, err := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
		}
		unit, ok := unitSeconds[s[m[4]:m[5]]]
		if !ok {
			return 0, fmt.Errorf("invalid time limit %q: unknown unit %q", s, s[m[4]:m[5]])
		}
		total += value * unit
		end = m[1]
	}
	if strings.TrimSpace(s[end:]) != "" {
		return 0, fmt.Errorf("invalid time limit %q", s)
	}
	secs := job.Seconds(total)
	if float64(secs) < total {
		secs++
	}
	return secs, nil
}

// ParseMemLimit parses sizes such as "1GiB", "512 MB" or "1000TiB".
func ParseMemLimit(s string) (job.Bytes, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return n, nil
}
