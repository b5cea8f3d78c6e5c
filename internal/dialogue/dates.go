package dialogue

import (
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006"}

// ParseDeliveryDate reads a delivery date answer relative to now in loc and
// returns the last second of that local day. Free text reports false.
func ParseDeliveryDate(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	t := strings.ToLower(strings.TrimSpace(text))
	local := now.In(loc)

	var day time.Time
	switch t {
	case "today":
		day = local
	case "tomorrow":
		day = local.AddDate(0, 0, 1)
	default:
		var ok bool
		for _, layout := range dateLayouts {
			parsed, err := time.ParseInLocation(layout, t, loc)
			if err == nil {
				day, ok = parsed, true
				break
			}
		}
		if !ok {
			return time.Time{}, false
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, loc), true
}
