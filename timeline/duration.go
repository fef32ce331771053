package timeline

import (
	"strconv"
	"time"
)

// DurationLabel renders a booking length in whole days and hours:
// "2d 5h", "1d" when the hours part is zero, "5h" under a day.
// Minutes are truncated.
func DurationLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	days, rem := hours/24, hours%24

	if days == 0 {
		return strconv.Itoa(rem) + "h"
	}
	if rem == 0 {
		return strconv.Itoa(days) + "d"
	}
	return strconv.Itoa(days) + "d " + strconv.Itoa(rem) + "h"
}
