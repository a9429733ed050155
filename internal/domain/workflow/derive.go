package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/portal-idjuv/casework/internal/domain/entity"
)

// Derivation computes field updates that are an inherent effect of an action.
// It receives the case with the caller's extra fields already merged and must
// not mutate it.
type Derivation func(c entity.Case, now time.Time, actor entity.Actor) map[string]any

// dateLayout is the calendar-date format used by the portal forms.
const dateLayout = "2006-01-02"

// StampNow sets field to the transition time (RFC3339, UTC).
func StampNow(field string) Derivation {
	return func(_ entity.Case, now time.Time, _ entity.Actor) map[string]any {
		return map[string]any{field: now.UTC().Format(time.RFC3339)}
	}
}

// SetFlag sets field to a fixed value, usually true.
func SetFlag(field string, value any) Derivation {
	return func(entity.Case, time.Time, entity.Actor) map[string]any {
		return map[string]any{field: value}
	}
}

// RecordActor sets field to the acting actor's id.
func RecordActor(field string) Derivation {
	return func(_ entity.Case, _ time.Time, actor entity.Actor) map[string]any {
		return map[string]any{field: actor.ID}
	}
}

// DaysBetween sets target to the inclusive number of calendar days between the
// dates held in startField and endField. Nothing is derived when either date
// is missing, unparsable, or the range is inverted.
func DaysBetween(target, startField, endField string) Derivation {
	return func(c entity.Case, _ time.Time, _ entity.Actor) map[string]any {
		start, ok := ParseDate(c.Fields[startField])
		if !ok {
			return nil
		}
		end, ok := ParseDate(c.Fields[endField])
		if !ok || end.Before(start) {
			return nil
		}
		days := int(end.Sub(start).Hours()/24) + 1
		return map[string]any{target: days}
	}
}

// Percent sets target to done/total*100 rounded to two decimals.
func Percent(target, doneField, totalField string) Derivation {
	return func(c entity.Case, _ time.Time, _ entity.Actor) map[string]any {
		done, ok := toFloat(c.Fields[doneField])
		if !ok {
			return nil
		}
		total, ok := toFloat(c.Fields[totalField])
		if !ok || total <= 0 {
			return nil
		}
		pct := math.Round(done/total*10000) / 100
		return map[string]any{target: math.Min(pct, 100)}
	}
}

// ParseDerivation resolves the textual form used in YAML definitions:
// stamp:<field>, flag:<field>, actor:<field>, days:<target>:<start>:<end>,
// percent:<target>:<done>:<total>.
func ParseDerivation(spec string) (Derivation, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil, fmt.Errorf("derivation %q: empty segment", spec)
		}
	}

	switch parts[0] {
	case "stamp":
		if len(parts) == 2 {
			return StampNow(parts[1]), nil
		}
	case "flag":
		if len(parts) == 2 {
			return SetFlag(parts[1], true), nil
		}
	case "actor":
		if len(parts) == 2 {
			return RecordActor(parts[1]), nil
		}
	case "days":
		if len(parts) == 4 {
			return DaysBetween(parts[1], parts[2], parts[3]), nil
		}
	case "percent":
		if len(parts) == 4 {
			return Percent(parts[1], parts[2], parts[3]), nil
		}
	default:
		return nil, fmt.Errorf("derivation %q: unknown kind %q", spec, parts[0])
	}
	return nil, fmt.Errorf("derivation %q: wrong number of arguments for %s", spec, parts[0])
}

// ParseDate reads a calendar date stored as "2006-01-02", RFC3339 or a
// time.Time, normalised to midnight UTC.
func ParseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return truncateDay(d), true
	case string:
		if t, err := time.Parse(dateLayout, d); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", "."), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
