package domain

import "github.com/jonboulle/clockwork"

// clock is the package-level time source that components fall back to when
// no clock is injected. Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the default time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns the default time source.
func Clock() clockwork.Clock {
	return clock
}

// Now returns the current time in feed timestamp form.
func Now() string {
	return FormatTimestamp(clock.Now())
}
