// Package rules classifies an enriched card record into a bin index using an
// ordered, user-configurable predicate list. Evaluation never fails: rules
// that do not apply to a field's type, reference an absent field, or need a
// coercion that cannot be made resolve to non-match and evaluation moves on.
package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cardsort/sorterd/internal/model"
)

// DefaultBin is assigned when no rule matches.
const DefaultBin = 0

type kind int

const (
	kindNumber kind = iota
	kindText
	kindList
)

// value is the tagged form a record field or rule operand is coerced into
// before comparison.
type value struct {
	kind kind
	num  float64
	text string
	list []string
}

// classify maps a raw field value into its tagged form. Unknown types and
// nils report ok=false, which skips the rule.
func classify(raw any) (value, bool) {
	switch v := raw.(type) {
	case nil:
		return value{}, false
	case float64:
		return value{kind: kindNumber, num: v, text: strconv.FormatFloat(v, 'f', -1, 64)}, true
	case float32:
		return classify(float64(v))
	case int:
		return classify(float64(v))
	case int64:
		return classify(float64(v))
	case string:
		return value{kind: kindText, text: v}, true
	case bool:
		return value{kind: kindText, text: strconv.FormatBool(v)}, true
	case []string:
		return value{kind: kindList, list: v}, true
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			iv, ok := classify(item)
			if !ok {
				return value{}, false
			}
			list = append(list, iv.text)
		}
		return value{kind: kindList, list: list}, true
	default:
		return value{}, false
	}
}

// number reports the operand as a float64 when it is numeric or a string
// that parses as one.
func (v value) number() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.num, true
	case kindText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Evaluate returns the bin of the first rule whose predicate matches the
// record's fields, or DefaultBin when none match.
func Evaluate(fields map[string]any, ruleList []model.Rule) int {
	for _, r := range ruleList {
		if matches(fields, r) {
			return r.Bin
		}
	}
	return DefaultBin
}

func matches(fields map[string]any, r model.Rule) bool {
	raw, ok := fields[r.Field]
	if !ok || raw == nil {
		return false
	}
	fieldVal, ok := classify(raw)
	if !ok {
		return false
	}
	target, ok := classify(r.Value)
	if !ok {
		return false
	}
	if fieldVal.kind == kindList {
		return matchList(fieldVal.list, r.Operator, target)
	}
	return matchScalar(fieldVal, r.Operator, target)
}

func matchList(list []string, op string, target value) bool {
	switch op {
	case "contains":
		for _, item := range list {
			if strings.EqualFold(item, target.text) {
				return true
			}
		}
		return false
	case "==":
		want := splitSet(target.text)
		got := make([]string, 0, len(list))
		for _, item := range list {
			got = append(got, strings.ToUpper(item))
		}
		sort.Strings(got)
		if len(want) != len(got) {
			return false
		}
		for i := range want {
			if want[i] != got[i] {
				return false
			}
		}
		return true
	case "len==":
		n, ok := target.number()
		return ok && float64(len(list)) == n
	default:
		// Ordering and substring operators have no list semantics.
		return false
	}
}

func splitSet(raw string) []string {
	parts := strings.Split(raw, ",")
	set := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			set = append(set, p)
		}
	}
	sort.Strings(set)
	return set
}

func matchScalar(fieldVal value, op string, target value) bool {
	switch op {
	case ">", "<", ">=", "<=":
		a, okA := fieldVal.number()
		b, okB := target.number()
		if !okA || !okB {
			return false
		}
		switch op {
		case ">":
			return a > b
		case "<":
			return a < b
		case ">=":
			return a >= b
		default:
			return a <= b
		}
	case "==":
		return strings.EqualFold(fieldVal.text, target.text)
	case "!=":
		return !strings.EqualFold(fieldVal.text, target.text)
	case "contains":
		return strings.Contains(strings.ToLower(fieldVal.text), strings.ToLower(target.text))
	default:
		return false
	}
}
