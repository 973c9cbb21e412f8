package progress

import (
	"math"
	"time"

	"cloudvault/internal/format"
)

// Stats holds the derived, UI-facing view of a pair of byte counters.
type Stats struct {
	Percent     float64
	SpeedBps    float64
	ETASeconds  *float64
	ETAFriendly string
}

// Compute derives percent, average speed since startedAt and ETA.
// An unknown total (<= 0) yields 0% and no ETA; a zero startedAt yields no speed.
// A finished transfer has ETAFriendly "0s" and a nil ETASeconds.
func Compute(transferred, total int64, startedAt, now time.Time) Stats {
	var st Stats
	if total > 0 {
		st.Percent = round2(float64(transferred) / float64(total) * 100)
	}
	if !startedAt.IsZero() {
		if elapsed := now.Sub(startedAt).Seconds(); elapsed > 0 {
			st.SpeedBps = round2(float64(transferred) / elapsed)
		}
	}
	st.ETAFriendly = format.FormatETA(nil)
	if st.SpeedBps > 0 && total > 0 {
		remaining := total - transferred
		if remaining < 0 {
			remaining = 0
		}
		eta := round2(float64(remaining) / st.SpeedBps)
		st.ETAFriendly = format.FormatETA(&eta)
		// nothing left reads as "0s" but stores no eta_seconds
		if eta > 0 {
			st.ETASeconds = &eta
		}
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
