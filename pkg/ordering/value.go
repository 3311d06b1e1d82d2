package ordering

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Kind is the declared kind of the values being ordered.
type Kind int

// value kinds
const (
	String  Kind = iota // lexical, as rendered
	Numeric             // number or currency, formatting stripped
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "string"
}

// ParseKind parses "string" or "numeric" (also "number", "currency", "price").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "text":
		return String, nil
	case "numeric", "number", "currency", "price":
		return Numeric, nil
	}
	return String, fmt.Errorf("unknown value kind %q", s)
}

// Direction of the expected order.
type Direction int

// directions
const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseDirection parses "asc"/"ascending" and "desc"/"descending".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown direction %q", s)
}

// Value is one rendered value made comparable.
type Value struct {
	Raw string  // text as rendered, trimmed
	Num float64 // parsed number, numeric kind only
}

func (v Value) String() string { return v.Raw }

// ErrNotNumeric is wrapped when numeric text has no parsable number.
var ErrNotNumeric = errors.New("not a number")

// ParseNumber parses number or currency text by stripping everything except digits,
// the decimal separator and a leading minus. decimalSep is '.' or ','; the other one is
// taken as a thousands separator. Zero means '.'.
func ParseNumber(s string, decimalSep rune) (float64, error) {
	if decimalSep == 0 {
		decimalSep = '.'
	}
	var b strings.Builder
	negative, seenDigit := false, false
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
			seenDigit = true
		case r == decimalSep && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			// a separator not followed by a digit is punctuation, as in "Rs. 500"
			b.WriteByte('.')
		case (r == '-' || r == '−') && !seenDigit:
			negative = true
		}
	}
	if !seenDigit {
		return 0, fmt.Errorf("parse %q: %w", s, ErrNotNumeric)
	}
	clean := b.String()
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, ErrNotNumeric)
	}
	if negative {
		f = -f
	}
	return f, nil
}

// Assertion is the expected order: direction plus value kind.
// It is built per verification call and not kept.
type Assertion struct {
	Direction  Direction
	Kind       Kind
	FoldCase   bool // compare strings case-insensitively
	DecimalSep rune // numeric decimal separator, '.' when zero
	LooseTies  bool // equal keys may appear in any relative order
}

func (a Assertion) String() string {
	s := a.Direction.String() + " " + a.Kind.String()
	if a.Kind == String && a.FoldCase {
		s += " (case-insensitive)"
	}
	return s
}

// Parse converts rendered texts into values of the assertion kind.
// Parse failures are hard errors, a value is never skipped.
func (a Assertion) Parse(texts []string) ([]Value, error) {
	res := make([]Value, len(texts))
	for i, t := range texts {
		v := Value{Raw: strings.TrimSpace(t)}
		if a.Kind == Numeric {
			n, err := ParseNumber(v.Raw, a.DecimalSep)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			v.Num = n
		}
		res[i] = v
	}
	return res, nil
}

// Compare orders two values ascending by the assertion kind.
func (a Assertion) Compare(x, y Value) int {
	if a.Kind == Numeric {
		return cmp.Compare(x.Num, y.Num)
	}
	if a.FoldCase {
		return strings.Compare(strings.ToLower(x.Raw), strings.ToLower(y.Raw))
	}
	return strings.Compare(x.Raw, y.Raw)
}

// Expected returns before stably sorted in the assertion direction.
func (a Assertion) Expected(before []Value) []Value {
	res := slices.Clone(before)
	slices.SortStableFunc(res, func(x, y Value) int {
		if a.Direction == Descending {
			return a.Compare(y, x)
		}
		return a.Compare(x, y)
	})
	return res
}

// same reports whether actual at a position satisfies expected.
// Equal keys must keep their relative order from before unless LooseTies is set.
func (a Assertion) same(expected, actual Value) bool {
	if a.LooseTies {
		return a.Compare(expected, actual) == 0
	}
	return expected.Raw == actual.Raw
}

// Diff compares actual with expected element-wise, returning nil when they agree.
func (a Assertion) Diff(expected, actual []Value) *MismatchError {
	n := min(len(expected), len(actual))
	for i := range n {
		if !a.same(expected[i], actual[i]) {
			return &MismatchError{Assertion: a, Index: i, Expected: expected, Actual: actual}
		}
	}
	if len(expected) != len(actual) {
		return &MismatchError{Assertion: a, Index: n, Expected: expected, Actual: actual}
	}
	return nil
}

// ErrMismatch is matched by every *MismatchError.
var ErrMismatch = errors.New("ordering mismatch")

// MismatchError reports a sequence that is not in the expected order.
type MismatchError struct {
	Assertion Assertion
	Index     int // first mismatched position
	Expected  []Value
	Actual    []Value
	Note      string
}

func (e *MismatchError) Error() string {
	var msg string
	switch {
	case len(e.Expected) != len(e.Actual) && e.Index >= min(len(e.Expected), len(e.Actual)):
		msg = fmt.Sprintf("%s order: expected %d values, got %d", e.Assertion, len(e.Expected), len(e.Actual))
	default:
		msg = fmt.Sprintf("%s order broken at index %d: expected %q, got %q",
			e.Assertion, e.Index, e.Expected[e.Index].Raw, e.Actual[e.Index].Raw)
	}
	msg += fmt.Sprintf(" (expected %v, actual %v)", e.Expected, e.Actual)
	if e.Note != "" {
		msg += ", " + e.Note
	}
	return msg
}

// Is makes errors.Is(err, ErrMismatch) true.
func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// Mismatch marks the error as wrong behavior rather than absence.
func (e *MismatchError) Mismatch() bool { return true }
