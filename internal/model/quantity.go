package model

import (
	"regexp"
	"strconv"
	"strings"
)

// HintKind discriminates the three shapes a quantity hint can take.
type HintKind int

const (
	HintNone  HintKind = iota // absent or unparseable
	HintExact                 // a single integer
	HintRange                 // an inclusive [Low, High] range
)

// QuantityHint is a provisional quantity extracted from email text. It is
// resolved against stock by the quantity resolver before any stock
// decision is made.
type QuantityHint struct {
	Kind HintKind `json:"kind"`
	Low  int      `json:"low,omitempty"`
	High int      `json:"high,omitempty"`
}

// NoQuantity returns the absent hint, which resolves to a default of 1.
func NoQuantity() QuantityHint { return QuantityHint{Kind: HintNone} }

// ExactQuantity returns a hint for a single requested amount.
func ExactQuantity(n int) QuantityHint {
	if n <= 0 {
		return NoQuantity()
	}
	return QuantityHint{Kind: HintExact, Low: n, High: n}
}

// QuantityRange returns a hint for an inclusive range. Inverted or
// non-positive bounds degrade to the closest sensible shape.
func QuantityRange(lo, hi int) QuantityHint {
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return NoQuantity()
	}
	if lo <= 0 {
		lo = 1
	}
	if lo == hi {
		return ExactQuantity(lo)
	}
	return QuantityHint{Kind: HintRange, Low: lo, High: hi}
}

var rangePattern = regexp.MustCompile(`^(\d+)\s*(?:-|–|—|to|through)\s*(\d+)$`)

// ParseQuantityHint interprets the quantity field of an extraction
// response. The service emits a JSON number, a bare numeric string, or a
// textual range such as "5-10" or "5 to 10". Anything else is treated as
// absent, never as an error.
func ParseQuantityHint(raw any) QuantityHint {
	switch v := raw.(type) {
	case nil:
		return NoQuantity()
	case float64:
		return ExactQuantity(int(v))
	case int:
		return ExactQuantity(v)
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if s == "" {
			return NoQuantity()
		}
		if n, err := strconv.Atoi(s); err == nil {
			return ExactQuantity(n)
		}
		if m := rangePattern.FindStringSubmatch(s); m != nil {
			lo, err1 := strconv.Atoi(m[1])
			hi, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil {
				return QuantityRange(lo, hi)
			}
		}
		return NoQuantity()
	default:
		return NoQuantity()
	}
}
