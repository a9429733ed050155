package workflow

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/portal-idjuv/casework/internal/domain/entity"
)

// MatchText matches cases whose string fields contain query, ignoring case
// and accents ("joao" finds "João"). With no keys every string field is
// searched. An empty query matches everything.
func MatchText(query string, keys ...string) Predicate {
	needle := fold(query)
	return func(c *entity.Case) bool {
		if needle == "" {
			return true
		}
		if len(keys) == 0 {
			for _, v := range c.Fields {
				if s, ok := v.(string); ok && strings.Contains(fold(s), needle) {
					return true
				}
			}
			return false
		}
		for _, key := range keys {
			if strings.Contains(fold(c.FieldString(key)), needle) {
				return true
			}
		}
		return false
	}
}

// FieldEquals matches cases whose field key equals value. Values are
// compared in their printed form, then numerically, so a json.Number read
// back from storage matches the int or float literal it was written as.
func FieldEquals(key string, value any) Predicate {
	want := fmt.Sprint(value)
	wantNum, numeric := number(value)
	return func(c *entity.Case) bool {
		v, ok := c.Field(key)
		if !ok {
			return false
		}
		if fmt.Sprint(v) == want {
			return true
		}
		if !numeric {
			return false
		}
		got, ok := number(v)
		return ok && got == wantNum
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// All matches cases accepted by every predicate.
func All(preds ...Predicate) Predicate {
	return func(c *entity.Case) bool {
		for _, p := range preds {
			if p != nil && !p(c) {
				return false
			}
		}
		return true
	}
}

// Collect drains a listing, stopping at the first error.
func Collect(seq iter.Seq2[*entity.Case, error]) ([]*entity.Case, error) {
	var out []*entity.Case
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SortByField orders cases by a string field using Brazilian Portuguese
// collation, so "Álvaro" sorts with the A's. Ties keep their input order.
func SortByField(list []*entity.Case, key string) {
	col := collate.New(language.BrazilianPortuguese, collate.IgnoreCase)
	sort.SliceStable(list, func(i, j int) bool {
		return col.CompareString(list[i].FieldString(key), list[j].FieldString(key)) < 0
	})
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}
