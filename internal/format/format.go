// Package format renders byte counts and durations for the transfer UI.
package format

import (
	"fmt"
	"strings"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes converts a byte count to a 1024-based string with two decimals,
// e.g. 1536 -> "1.50 KB".
func FormatBytes(n int64) string {
	size := float64(n)
	for _, unit := range byteUnits {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

// FormatETA converts seconds to a string like "1h 1m 5s".
// A nil value means the ETA is unknown and renders as "N/A".
func FormatETA(seconds *float64) string {
	if seconds == nil {
		return "N/A"
	}
	total := int64(*seconds)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
