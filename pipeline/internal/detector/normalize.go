package detector

import (
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when a timestamp value is not epoch
// numeric. Syslog layouts carry no year; the current year is assumed.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"01/02/2006 15:04:05",
	time.Stamp, // syslog: Jan _2 15:04:05
}

// enumFields have their values lowercased so taxonomy and rule matching is
// case-stable.
var enumFields = map[string]struct{}{
	FieldCategory: {},
	FieldOutcome:  {},
	FieldAction:   {},
	FieldProtocol: {},
}

// NormalizeValue trims a canonical field value, lowercases enum fields, and
// converts timestamps to epoch seconds. Unparseable values pass through
// trimmed; normalization never discards data.
func NormalizeValue(field, value string) string {
	v := strings.TrimSpace(value)
	if _, isEnum := enumFields[field]; isEnum {
		return strings.ToLower(v)
	}
	if field == FieldTimestamp {
		if ts, ok := ParseTimestamp(v); ok {
			return strconv.FormatInt(ts.Unix(), 10)
		}
	}
	return v
}

// ParseTimestamp interprets epoch seconds, epoch milliseconds, and common
// textual layouts.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}

	if f, err := strconv.ParseFloat(v, 64); err == nil {
		// Heuristic: values beyond year 9999 in seconds are milliseconds.
		if f > 253402300799 {
			f /= 1000
		}
		whole := int64(f)
		frac := f - float64(whole)
		return time.Unix(whole, int64(frac*float64(time.Second))).UTC(), true
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			if t.Year() == 0 {
				now := time.Now().UTC()
				t = t.AddDate(now.Year(), 0, 0)
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
