package checker

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// MatchesExpectation reports whether actual satisfies expected. Maps match
// as subsets, numbers compare across types, and string expectations may be
// a regex ("~pattern~") or a comparison (">5", "<=0.5").
func MatchesExpectation(actual, expected interface{}) (bool, string) {
	if expected == nil {
		if actual == nil {
			return true, ""
		}
		return false, fmt.Sprintf("expected nil, got %v", actual)
	}
	if actual == nil {
		return false, fmt.Sprintf("expected %v, got nil", expected)
	}

	if s, ok := expected.(string); ok {
		switch {
		case len(s) > 1 && strings.HasPrefix(s, "~") && strings.HasSuffix(s, "~"):
			return matchRegex(actual, strings.Trim(s, "~"))
		case strings.HasPrefix(s, ">") || strings.HasPrefix(s, "<"):
			return matchComparison(actual, s)
		}
	}

	if ef, err := toFloat64(expected); err == nil {
		af, err := toFloat64(actual)
		if str, ok := actual.(string); ok {
			// numeric columns from lib/pq arrive as text
			af, err = strconv.ParseFloat(str, 64)
		}
		if err != nil {
			return false, fmt.Sprintf("expected number %v, got %T", expected, actual)
		}
		if af != ef {
			return false, fmt.Sprintf("expected %v, got %v", expected, actual)
		}
		return true, ""
	}

	switch e := expected.(type) {
	case map[string]interface{}:
		return matchMap(actual, e)
	case []interface{}:
		return matchSlice(actual, e)
	}

	if !reflect.DeepEqual(actual, expected) {
		return false, fmt.Sprintf("expected %v (%T), got %v (%T)", expected, expected, actual, actual)
	}
	return true, ""
}

func matchRegex(actual interface{}, pattern string) (bool, string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)
	}

	s := fmt.Sprintf("%v", actual)
	if !re.MatchString(s) {
		return false, fmt.Sprintf("value %q does not match ~%s~", s, pattern)
	}
	return true, ""
}

func matchComparison(actual interface{}, comparison string) (bool, string) {
	op := comparison[:1]
	if strings.HasPrefix(comparison, ">=") || strings.HasPrefix(comparison, "<=") {
		op = comparison[:2]
	}

	want, err := strconv.ParseFloat(strings.TrimSpace(comparison[len(op):]), 64)
	if err != nil {
		return false, fmt.Sprintf("invalid comparison %q", comparison)
	}
	got, err := toFloat64(actual)
	if err != nil {
		return false, fmt.Sprintf("value %v is not numeric", actual)
	}

	var ok bool
	switch op {
	case ">":
		ok = got > want
	case ">=":
		ok = got >= want
	case "<":
		ok = got < want
	case "<=":
		ok = got <= want
	}
	if !ok {
		return false, fmt.Sprintf("expected %s, got %v", comparison, got)
	}
	return true, ""
}

func matchMap(actual interface{}, expected map[string]interface{}) (bool, string) {
	m, ok := actual.(map[string]interface{})
	if !ok {
		return false, fmt.Sprintf("expected object, got %T", actual)
	}

	for key, want := range expected {
		got, exists := m[key]
		if !exists {
			return false, fmt.Sprintf("missing key %q", key)
		}
		if ok, reason := MatchesExpectation(got, want); !ok {
			return false, fmt.Sprintf("key %q: %s", key, reason)
		}
	}
	return true, ""
}

func matchSlice(actual interface{}, expected []interface{}) (bool, string) {
	got, ok := actual.([]interface{})
	if !ok {
		return false, fmt.Sprintf("expected array, got %T", actual)
	}
	if len(got) != len(expected) {
		return false, fmt.Sprintf("expected %d elements, got %d", len(expected), len(got))
	}

	for i := range expected {
		if ok, reason := MatchesExpectation(got[i], expected[i]); !ok {
			return false, fmt.Sprintf("element %d: %s", i, reason)
		}
	}
	return true, ""
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a numeric type: %T", v)
	}
}
