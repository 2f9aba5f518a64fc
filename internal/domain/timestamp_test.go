package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNoon     = "20240101-120000"
	testTenMin   = 600 * time.Second
	testBadStamp = "2024-01-01T12:00"
)

func TestParseTimestamp(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := ParseTimestamp("20240426-151005")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, time.April, 26, 15, 10, 5, 0, time.Local), got)
	})

	invalid := []string{
		"",
		testBadStamp,
		"20240101120000",
		"20240101-12000",
		"20240101-1200000",
		" 20240101-120000",
		"2024010a-120000",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseTimestamp(in)
			require.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	parsed, err := ParseTimestamp("20231231-235959")
	require.NoError(t, err)
	assert.Equal(t, "20231231-235959", FormatTimestamp(parsed))
}

func TestClosest_WithinTolerance(t *testing.T) {
	got, ok := Closest("20240101-120930", []string{testNoon}, testTenMin)
	require.True(t, ok)
	assert.Equal(t, testNoon, got)
}

func TestClosest_BeyondTolerance(t *testing.T) {
	_, ok := Closest("20240101-121100", []string{testNoon}, testTenMin)
	assert.False(t, ok)
}

func TestClosest_EmptyCandidates(t *testing.T) {
	_, ok := Closest(testNoon, nil, testTenMin)
	assert.False(t, ok)

	_, ok = Closest(testNoon, []string{}, time.Hour)
	assert.False(t, ok)
}

func TestClosest_InvalidTarget(t *testing.T) {
	_, ok := Closest(testBadStamp, []string{testNoon}, time.Hour)
	assert.False(t, ok)
}

func TestClosest_SkipsUnparsableCandidates(t *testing.T) {
	got, ok := Closest(testNoon, []string{"garbage", "20240101-120500", testBadStamp}, testTenMin)
	require.True(t, ok)
	assert.Equal(t, "20240101-120500", got)
}

func TestClosest_SecondsIgnored(t *testing.T) {
	// 12:00:59 vs 12:01:00 is one minute apart after truncation, while
	// 12:00:01 vs 12:00:59 is zero.
	got, ok := Closest("20240101-120059", []string{"20240101-120001"}, 0)
	require.True(t, ok)
	assert.Equal(t, "20240101-120001", got)

	_, ok = Closest("20240101-120059", []string{"20240101-120100"}, 59*time.Second)
	assert.False(t, ok)
}

func TestClosest_PicksNearest(t *testing.T) {
	candidates := []string{
		"20240101-114000",
		"20240101-115500",
		"20240101-120300",
		"20240101-121500",
	}
	got, ok := Closest(testNoon, candidates, testTenMin)
	require.True(t, ok)
	assert.Equal(t, "20240101-120300", got)
}

func TestClosest_TieBreakPrefersEarlier(t *testing.T) {
	got, ok := Closest(testNoon, []string{"20240101-120500", "20240101-115500"}, testTenMin)
	require.True(t, ok)
	assert.Equal(t, "20240101-115500", got)

	// Same minute, different seconds: the earlier instant wins.
	got, ok = Closest(testNoon, []string{"20240101-120040", "20240101-120010"}, testTenMin)
	require.True(t, ok)
	assert.Equal(t, "20240101-120010", got)
}

func TestClosest_OrderInvariantAndMember(t *testing.T) {
	candidates := []string{
		"20240101-100000", "20240101-103000", "20240101-110000",
		"20240101-113000", "20240101-115500", "20240101-120500",
		"20240101-123000", "20240101-130000",
	}
	targets := []string{
		"20240101-095500", "20240101-101500", testNoon,
		"20240101-121730", "20240101-131000", "20240101-150000",
	}

	rng := rand.New(rand.NewSource(42))
	for _, target := range targets {
		want, wantOK := Closest(target, candidates, time.Hour)
		if wantOK {
			assert.Contains(t, candidates, want)
		}
		for i := 0; i < 20; i++ {
			shuffled := append([]string(nil), candidates...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

			got, ok := Closest(target, shuffled, time.Hour)
			assert.Equal(t, wantOK, ok, target)
			assert.Equal(t, want, got, target)
		}
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, TimestampLabel{Date: "2024-04-26", Time: "15:10"}, Label("20240426-151005"))
	assert.Equal(t, TimestampLabel{Date: testBadStamp}, Label(testBadStamp))
	assert.Equal(t, TimestampLabel{}, Label(""))
}

func TestSortTimestamps(t *testing.T) {
	in := []string{"20240101-120000", "20240101-100000", "20240101-120000", "20231231-235959"}
	assert.Equal(t,
		[]string{"20231231-235959", "20240101-100000", "20240101-120000"},
		SortTimestamps(in),
	)
	assert.Empty(t, SortTimestamps(nil))

	latest, ok := Latest(SortTimestamps(in))
	require.True(t, ok)
	assert.Equal(t, testNoon, latest)

	_, ok = Latest(nil)
	assert.False(t, ok)
}

func TestNow_UsesClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.Local))
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	assert.Equal(t, "20240426-151000", Now())
	assert.Same(t, fake, Clock())
}
