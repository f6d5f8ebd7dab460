package shared

import (
	"fmt"
	"strings"
	"time"
)

// Document number prefixes.
const (
	DocPrefixRequisition = "REQ"
	DocPrefixBorrow      = "BOR"
	DocPrefixReturn      = "RET"
)

// FormatDocNumber renders PREFIX-YYYYMMDD-NNN where seq is the 1-based position within the day.
func FormatDocNumber(prefix string, day time.Time, seq int) string {
	if seq < 1 {
		seq = 1
	}
	return fmt.Sprintf("%s-%s-%03d", strings.ToUpper(prefix), day.Format("20060102"), seq)
}

// DayBounds returns the [start, end) interval of the calendar day containing t in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
