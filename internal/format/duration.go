// Package format renders durations for the dashboard displays.
package format

import "fmt"

// Duration renders seconds as HH:MM:SS. Hours are not wrapped at 24 and
// negative input renders as zero.
func Duration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hrs, mins, secs)
}
