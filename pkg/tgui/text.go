package tgui

import (
	"strconv"
	"time"
)

// TruncRunes returns s cut to at most n runes, with a trailing "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}

// HoursMinutes renders d as "Xh Ym", rounding down to the minute.
func HoursMinutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m"
}

// Float renders f without trailing zeros ("3.5", "5", "0.1").
func Float(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
