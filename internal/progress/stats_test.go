package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_UnknownTotal(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)

	st := Compute(5000, 0, start, start.Add(10*time.Second))

	assert.Equal(t, 0.0, st.Percent)
	assert.Nil(t, st.ETASeconds)
	assert.Equal(t, "N/A", st.ETAFriendly)
	assert.Equal(t, 500.0, st.SpeedBps)
}

func TestCompute_NotStarted(t *testing.T) {
	st := Compute(0, 1000, time.Time{}, time.Now())

	assert.Equal(t, 0.0, st.Percent)
	assert.Equal(t, 0.0, st.SpeedBps)
	assert.Nil(t, st.ETASeconds)
	assert.Equal(t, "N/A", st.ETAFriendly)
}

func TestCompute_Running(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(4 * time.Second)

	st := Compute(400, 1000, start, now)

	assert.Equal(t, 40.0, st.Percent)
	assert.Equal(t, 100.0, st.SpeedBps)
	require.NotNil(t, st.ETASeconds)
	assert.Equal(t, 6.0, *st.ETASeconds)
	assert.Equal(t, "6s", st.ETAFriendly)
}

func TestCompute_OvershootClampsETA(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	st := Compute(1200, 1000, start, start.Add(time.Second))

	assert.Nil(t, st.ETASeconds)
	assert.Equal(t, "0s", st.ETAFriendly)
}

func TestCompute_FinishedHasNoETASeconds(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	st := Compute(1000, 1000, start, start.Add(2*time.Second))

	assert.Equal(t, 100.0, st.Percent)
	assert.Equal(t, 500.0, st.SpeedBps)
	assert.Nil(t, st.ETASeconds)
	assert.Equal(t, "0s", st.ETAFriendly)
}

func TestNewRecord(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(2 * time.Second)

	rec := NewRecord(Counters{
		TaskID:      "t1",
		UserID:      "u1",
		FileName:    "a.bin",
		Type:        "primary",
		Status:      "running",
		Transferred: 512,
		Total:       1024,
		StartedAt:   start,
	}, now)

	assert.Equal(t, "t1", rec.TaskID)
	assert.Equal(t, 50.0, rec.ProgressPercent)
	assert.Equal(t, 256.0, rec.SpeedBytesPerSec)
	assert.Equal(t, "2s", rec.ETAFriendly)
	assert.True(t, rec.UpdatedAt.Equal(now))
}
