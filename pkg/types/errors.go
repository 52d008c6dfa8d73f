package types

import "fmt"

// UnknownCategoryError is returned when a categorical value has no mapping.
type UnknownCategoryError struct {
	Kind  string
	Value string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}
