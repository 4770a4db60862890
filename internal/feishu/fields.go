package feishu

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyderes/bitable-sync/internal/models"
)

// flattenFields converts the loosely typed Bitable field values into strings.
// Fields that are null or flatten to nothing are dropped so they count as
// missing. Numeric dates are read in loc.
func flattenFields(raw map[string]any, loc *time.Location) map[string]string {
	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		var s string
		if n, ok := value.(float64); ok && name == models.FieldDate {
			// Date columns come back as Unix milliseconds of local midnight.
			s = time.UnixMilli(int64(n)).In(loc).Format("2006-01-02")
		} else {
			s = flattenValue(value)
		}
		if s != "" {
			fields[name] = s
		}
	}
	return fields
}

func flattenValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any:
		for _, key := range []string{"text", "name", "link"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	case []any:
		return flattenList(v)
	default:
		return fmt.Sprint(v)
	}
}

// flattenList joins rich text segments directly and everything else with a
// comma, matching how the Bitable UI displays multi-value cells.
func flattenList(items []any) string {
	segments := true
	parts := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			segments = false
		} else if _, hasText := m["text"]; !hasText {
			segments = false
		}
		if s := flattenValue(item); s != "" {
			parts = append(parts, s)
		}
	}
	if segments {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, ", ")
}
