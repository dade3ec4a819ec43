package validator

import (
	"cmp"
	"fmt"
	"slices"
)

// All returns the first non-nil error.
func All(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}

type Validatable interface {
	Validate() error
}

// Section validates v and prefixes any error with name.
func Section(name string, v Validatable) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

func Positive[T cmp.Ordered](field T, description string) error {
	var zero T
	if field <= zero {
		return fmt.Errorf("%s must be positive, got %v", description, field)
	}
	return nil
}

func NonNegative[T cmp.Ordered](field T, description string) error {
	var zero T
	if field < zero {
		return fmt.Errorf("%s must not be negative, got %v", description, field)
	}
	return nil
}

// Range checks lo <= field <= hi.
func Range[T cmp.Ordered](field, lo, hi T, description string) error {
	if field < lo || field > hi {
		return fmt.Errorf("%s must be between %v and %v, got %v", description, lo, hi, field)
	}
	return nil
}

// When returns check's result only if cond holds.
func When(cond bool, check func() error) error {
	if !cond {
		return nil
	}
	return check()
}
