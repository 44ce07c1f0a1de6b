package functions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aspen-pdp/aspen/value"
)

// StandardLibrary returns general-purpose helpers.
func StandardLibrary() map[string]Function {
	return map[string]Function{
		"length":   stdLength,
		"asString": stdAsString,
		"asNumber": stdAsNumber,
	}
}

func stdLength(args ...value.Val) (value.Val, error) {
	if err := arity("standard.length", args, 1, 1); err != nil {
		return value.Null(), err
	}
	n, err := args[0].Length()
	if err != nil {
		return value.Null(), err
	}
	return value.Integer(n), nil
}

func stdAsString(args ...value.Val) (value.Val, error) {
	if err := arity("standard.asString", args, 1, 1); err != nil {
		return value.Null(), err
	}
	if s, err := args[0].StringVal(); err == nil {
		return value.String(s), nil
	}
	return value.String(args[0].String()), nil
}

func stdAsNumber(args ...value.Val) (value.Val, error) {
	if err := arity("standard.asNumber", args, 1, 1); err != nil {
		return value.Null(), err
	}
	switch args[0].Kind() {
	case value.KindNumber:
		return args[0], nil
	case value.KindString:
		s, _ := args[0].StringVal()
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return value.Null(), fmt.Errorf("standard.asNumber: %q is not a number", s)
		}
		return value.Number(n), nil
	}
	return value.Null(), fmt.Errorf("standard.asNumber: cannot convert %s", args[0].Kind())
}

// TimeLibrary returns date/time helpers. Timestamps are ISO 8601 strings;
// plain dates ("2006-01-02") are accepted wherever a timestamp is.
func TimeLibrary() map[string]Function {
	return map[string]Function{
		"dateOf":      timeDateOf,
		"timeBetween": timeBetween,
		"before":      timeBefore,
		"after":       timeAfter,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(v value.Val) (time.Time, error) {
	s, err := v.StringVal()
	if err != nil {
		return time.Time{}, fmt.Errorf("time: expected a timestamp string: %w", err)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time: cannot parse %q as a timestamp", s)
}

// timeDateOf truncates a timestamp to its date, e.g. "2007-01-03".
func timeDateOf(args ...value.Val) (value.Val, error) {
	if err := arity("time.dateOf", args, 1, 1); err != nil {
		return value.Null(), err
	}
	t, err := parseTime(args[0])
	if err != nil {
		return value.Null(), err
	}
	return value.String(t.Format("2006-01-02")), nil
}

// timeBetween returns the amount of time between two timestamps in the given
// unit ("years", "months", "days", "hours", "minutes", "seconds"), truncated
// toward zero. Years and months are calendar-based, so a birthday only
// counts once it has actually passed.
func timeBetween(args ...value.Val) (value.Val, error) {
	if err := arity("time.timeBetween", args, 3, 3); err != nil {
		return value.Null(), err
	}
	start, err := parseTime(args[0])
	if err != nil {
		return value.Null(), err
	}
	end, err := parseTime(args[1])
	if err != nil {
		return value.Null(), err
	}
	unit, err := args[2].StringVal()
	if err != nil {
		return value.Null(), fmt.Errorf("time.timeBetween: expected a unit string: %w", err)
	}
	negate := false
	if end.Before(start) {
		start, end = end, start
		negate = true
	}
	var n int64
	switch unit {
	case "years":
		n = int64(calendarMonths(start, end) / 12)
	case "months":
		n = int64(calendarMonths(start, end))
	case "days":
		n = int64(end.Sub(start).Hours() / 24)
	case "hours":
		n = int64(end.Sub(start).Hours())
	case "minutes":
		n = int64(end.Sub(start).Minutes())
	case "seconds":
		n = int64(end.Sub(start).Seconds())
	default:
		return value.Null(), fmt.Errorf("time.timeBetween: unknown unit %q", unit)
	}
	if negate {
		n = -n
	}
	return value.Number(float64(n)), nil
}

// calendarMonths counts whole calendar months from start to end, start <= end.
func calendarMonths(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	return months
}

func timeBefore(args ...value.Val) (value.Val, error) {
	if err := arity("time.before", args, 2, 2); err != nil {
		return value.Null(), err
	}
	a, err := parseTime(args[0])
	if err != nil {
		return value.Null(), err
	}
	b, err := parseTime(args[1])
	if err != nil {
		return value.Null(), err
	}
	return value.Boolean(a.Before(b)), nil
}

func timeAfter(args ...value.Val) (value.Val, error) {
	if err := arity("time.after", args, 2, 2); err != nil {
		return value.Null(), err
	}
	a, err := parseTime(args[0])
	if err != nil {
		return value.Null(), err
	}
	b, err := parseTime(args[1])
	if err != nil {
		return value.Null(), err
	}
	return value.Boolean(a.After(b)), nil
}

// FilterLibrary returns functions for use in filter statements. Inside a
// filter, the selected node is passed as the implicit first argument.
func FilterLibrary() map[string]Function {
	return map[string]Function{
		"blacken": filterBlacken,
		"replace": filterReplace,
		"remove":  filterRemove,
	}
}

// filterBlacken masks a string, disclosing discloseLeft characters at the
// start and discloseRight at the end: blacken(discloseLeft?, discloseRight?,
// replacement?). Defaults: 0, 0, "X".
func filterBlacken(args ...value.Val) (value.Val, error) {
	if err := arity("filter.blacken", args, 1, 4); err != nil {
		return value.Null(), err
	}
	text, err := args[0].StringVal()
	if err != nil {
		return value.Null(), fmt.Errorf("filter.blacken: can only blacken strings: %w", err)
	}
	discloseLeft, discloseRight := 0, 0
	replacement := "X"
	if len(args) > 1 {
		n, err := args[1].NumberVal()
		if err != nil || n < 0 {
			return value.Null(), fmt.Errorf("filter.blacken: discloseLeft must be a non-negative number")
		}
		discloseLeft = int(n)
	}
	if len(args) > 2 {
		n, err := args[2].NumberVal()
		if err != nil || n < 0 {
			return value.Null(), fmt.Errorf("filter.blacken: discloseRight must be a non-negative number")
		}
		discloseRight = int(n)
	}
	if len(args) > 3 {
		replacement, err = args[3].StringVal()
		if err != nil {
			return value.Null(), fmt.Errorf("filter.blacken: replacement must be a string")
		}
	}
	runes := []rune(text)
	if discloseLeft+discloseRight >= len(runes) {
		return value.String(text), nil
	}
	var sb strings.Builder
	sb.WriteString(string(runes[:discloseLeft]))
	for i := discloseLeft; i < len(runes)-discloseRight; i++ {
		sb.WriteString(replacement)
	}
	sb.WriteString(string(runes[len(runes)-discloseRight:]))
	return value.String(sb.String()), nil
}

func filterReplace(args ...value.Val) (value.Val, error) {
	if err := arity("filter.replace", args, 2, 2); err != nil {
		return value.Null(), err
	}
	return args[1], nil
}

// filterRemove is handled structurally by the evaluator (the member is
// dropped from its container); calling it as a plain function is an error.
func filterRemove(args ...value.Val) (value.Val, error) {
	return value.Null(), fmt.Errorf("filter.remove can only be applied inside a filter expression")
}

func arity(name string, args []value.Val, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return fmt.Errorf("%s: expected %d argument(s), got %d", name, min, len(args))
		}
		return fmt.Errorf("%s: expected between %d and %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}
