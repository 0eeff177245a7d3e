package booking

import (
	"fmt"
)

// Criteria selects rooms. Search understands All, ExactAnd, and ExactOr.
type Criteria interface {
	fmt.Stringer
}

// All matches every room.
type All struct{}

// ExactAnd matches rooms whose name and location are both exactly equal.
type ExactAnd struct {
	Name     string
	Location string
}

// ExactOr matches rooms whose name or location is exactly equal.
type ExactOr struct {
	Name     string
	Location string
}

func (All) String() string {
	return "all"
}

func (ea ExactAnd) String() string {
	return fmt.Sprintf("name=%q and location=%q", ea.Name, ea.Location)
}

func (eo ExactOr) String() string {
	return fmt.Sprintf("name=%q or location=%q", eo.Name, eo.Location)
}
