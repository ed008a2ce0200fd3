package coordinator

import (
	"fmt"
	"strings"
)

// Reason says why a day is being requested. It decides whether the cache
// may answer.
type Reason int

const (
	// ReasonInitial is the first load of a view.
	ReasonInitial Reason = iota

	// ReasonDateChange is navigation to another day; it triggers prefetch
	// of the neighbouring days.
	ReasonDateChange

	// ReasonRefresh always goes to the network.
	ReasonRefresh
)

// String implements fmt.Stringer.
func (r Reason) String() string {
	switch r {
	case ReasonInitial:
		return "initial"
	case ReasonDateChange:
		return "dateChange"
	case ReasonRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ParseReason accepts "initial", "dateChange" (also "date_change",
// "date-change") and "refresh", case-insensitively. Empty means initial.
func ParseReason(s string) (Reason, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(strings.TrimSpace(s)))
	switch norm {
	case "", "initial":
		return ReasonInitial, nil
	case "datechange":
		return ReasonDateChange, nil
	case "refresh":
		return ReasonRefresh, nil
	default:
		return 0, fmt.Errorf("unknown reason %q", s)
	}
}
