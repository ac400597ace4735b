package fill

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// truthy reports whether a record value checks a checkbox. The match is
// case-insensitive against the accepted spellings.
func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "x":
		return true
	default:
		return false
	}
}

// dateLayouts are tried in order when normalizing date values.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// normalizeDate canonicalizes recognizable date values to 2006-01-02.
// Unrecognized values pass through unchanged; date fields stay lenient
// because upstream sources format dates inconsistently.
func normalizeDate(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	return trimmed
}

// stringify renders an expression result as a field value.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", val)
	}
}
