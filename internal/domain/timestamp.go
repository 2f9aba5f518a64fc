package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// TimestampLayout is the fixed textual form every feed uses: YYYYMMDD-HHMMSS.
const TimestampLayout = "20060102-150405"

// DefaultTolerance bounds how far a feed's frame may sit from the timeline
// position and still be shown.
const DefaultTolerance = 10 * time.Minute

// timestampRe accepts only the exact feed timestamp shape, e.g. "20240101-120930".
var timestampRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})-(\d{2})(\d{2})(\d{2})$`)

// TimestampLabel is the display form of a feed timestamp.
type TimestampLabel struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time"` // HH:MM
}

// ParseTimestamp converts a feed timestamp into a local wall-clock instant.
// Out-of-range fields normalize the way time.Date does.
func ParseTimestamp(ts string) (time.Time, error) {
	m := timestampRe.FindStringSubmatch(ts)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, ts)
	}

	// The regexp guarantees every group is all digits.
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}

// FormatTimestamp renders t in the feed timestamp form using local time.
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}

// Closest returns the candidate nearest to target, comparing both at minute
// resolution. Unparsable candidates are skipped. When the best distance
// exceeds tolerance, or nothing parses, it reports no match.
//
// Equidistant candidates resolve to the earlier timestamp, so the result does
// not depend on candidate order.
func Closest(target string, candidates []string, tolerance time.Duration) (string, bool) {
	tt, err := ParseTimestamp(target)
	if err != nil {
		return "", false
	}
	tt = truncateToMinute(tt)

	var (
		best     string
		bestTime time.Time
		bestDiff time.Duration = -1
	)
	for _, c := range candidates {
		ct, err := ParseTimestamp(c)
		if err != nil {
			continue
		}
		diff := absDuration(truncateToMinute(ct).Sub(tt))
		better := bestDiff < 0 || diff < bestDiff || (diff == bestDiff && ct.Before(bestTime))
		if !better {
			continue
		}
		best, bestTime, bestDiff = c, ct, diff
	}

	if bestDiff < 0 || bestDiff > tolerance {
		return "", false
	}
	return best, true
}

// Label splits a feed timestamp into display date and time. Malformed input
// comes back unchanged as the date with an empty time.
func Label(ts string) TimestampLabel {
	m := timestampRe.FindStringSubmatch(ts)
	if m == nil {
		return TimestampLabel{Date: ts}
	}
	return TimestampLabel{
		Date: m[1] + "-" + m[2] + "-" + m[3],
		Time: m[4] + ":" + m[5],
	}
}

// SortTimestamps returns a sorted, de-duplicated copy of ts. The fixed-width
// layout makes lexical order chronological.
func SortTimestamps(ts []string) []string {
	out := make([]string, 0, len(ts))
	seen := make(map[string]struct{}, len(ts))
	for _, s := range ts {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Latest returns the last element of a sorted timestamp list.
func Latest(sorted []string) (string, bool) {
	if len(sorted) == 0 {
		return "", false
	}
	return sorted[len(sorted)-1], true
}

func truncateToMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
