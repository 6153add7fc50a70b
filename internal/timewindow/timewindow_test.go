package timewindow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinutes24Hour(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"18:00": 1080,
		"23:59": 1439,
	}
	for in, want := range cases {
		got, err := Minutes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestMinutes12Hour(t *testing.T) {
	cases := map[string]int{
		"6:45 PM":  1125,
		"12:00 AM": 0,
		"12:00 PM": 720,
		"12:30 am": 30,
		"1:05pm":   785,
		"11:59 PM": 1439,
	}
	for in, want := range cases {
		got, err := Minutes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestMinutesMalformed(t *testing.T) {
	for _, in := range []string{"", "18", "25:00", "13:00 PM", "0:00 AM", "10:75", "ten thirty"} {
		_, err := Minutes(in)
		assert.Error(t, err, in)
	}
}

func TestWindowContainsInclusive(t *testing.T) {
	w, err := Parse("18:00", "20:30")
	require.NoError(t, err)

	assert.True(t, w.Contains(1080), "start boundary")
	assert.True(t, w.Contains(1230), "end boundary")
	assert.True(t, w.Contains(1125), "interior")
	assert.False(t, w.Contains(1079), "minute before start")
	assert.False(t, w.Contains(1231), "minute after end")
}

func TestParseRejectsBadEdges(t *testing.T) {
	_, err := Parse("18:00", "late")
	assert.Error(t, err)
	_, err = Parse("nope", "20:00")
	assert.Error(t, err)
}
