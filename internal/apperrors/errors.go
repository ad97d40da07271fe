// Package apperrors defines the sentinel errors shared by the matching
// and automation engines, grounded on the teacher's pkg/errors package.
package apperrors

import "errors"

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientHoldings  = errors.New("insufficient holdings")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrStrategyNotRunning    = errors.New("strategy is not running")
	ErrStrategyNotFound      = errors.New("strategy not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
)
