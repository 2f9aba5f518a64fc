package domain

import "time"

// PrimaryFeed names the primary storm feed in update records and metrics.
const PrimaryFeed = "primary"

// FeedUpdate records one poll cycle that found new upstream data.
type FeedUpdate struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	DetectedAt time.Time         `json:"detected_at"`
	Feeds      []string          `json:"feeds"`
	Latest     map[string]string `json:"latest"`
	Position   int               `json:"position"`
}

// Changed reports whether next carries new data compared to prev. Both lists
// must be sorted ascending; only the length and the newest entry matter.
func Changed(prev, next []string) bool {
	if len(prev) != len(next) {
		return true
	}
	if len(next) == 0 {
		return false
	}
	return prev[len(prev)-1] != next[len(next)-1]
}
