package reconcile

import "github.com/fernwood/orderdesk/internal/model"

// ResolveQuantity finalizes a quantity hint against the currently
// available stock. Pure and side-effect free; the same policy is applied
// everywhere a quantity is finalized.
//
// A single integer is returned unchanged regardless of stock: sufficiency
// is judged later by the status assignment, not clamped here. For a range
// [lo, hi] the largest value stock permits wins, falling back to lo when
// lo itself meets or exceeds stock (at lo == stock both rules coincide).
// An absent or unparseable hint defaults to 1.
func ResolveQuantity(hint model.QuantityHint, stock int) int {
	switch hint.Kind {
	case model.HintExact:
		return hint.Low
	case model.HintRange:
		switch {
		case hint.High <= stock:
			return hint.High
		case hint.Low >= stock:
			return hint.Low
		default:
			return stock
		}
	default:
		return 1
	}
}
