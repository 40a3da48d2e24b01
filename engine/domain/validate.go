package domain

import (
	"math"
	"strconv"
	"time"
)

// MaxRecencyDays bounds the recency window well below the roughly 106,751
// days a time.Duration can hold.
const MaxRecencyDays = 36500

// ValidatePolicy checks the projection settings.
func ValidatePolicy(p Policy) error {
	if math.IsNaN(p.RecencyDays) || p.RecencyDays < 0 || p.RecencyDays > MaxRecencyDays {
		return NewValidationError("recency_days", strconv.FormatFloat(p.RecencyDays, 'g', -1, 64), ErrInvalidOption)
	}
	if err := ValidateAtLeast("max_roots", p.MaxRoots, 1); err != nil {
		return err
	}
	return ValidateAtLeast("max_replies", p.MaxReplies, 1)
}

// ValidateAtLeast rejects integer options below min.
func ValidateAtLeast(field string, v, min int) error {
	if v < min {
		return NewValidationError(field, strconv.Itoa(v), ErrInvalidOption)
	}
	return nil
}

// ValidateDuration rejects negative durations.
func ValidateDuration(field string, d time.Duration) error {
	if d < 0 {
		return NewValidationError(field, d.String(), ErrInvalidOption)
	}
	return nil
}
