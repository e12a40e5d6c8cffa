package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Callers branch on these with errors.Is; the specific
// errors below wrap exactly one of them.
var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing dilemma or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation that is not allowed in the current state.
	ErrConflict = errors.New("conflict")
	// ErrConcurrencyExhausted is returned when a transaction keeps conflicting
	// after the retry budget. Nothing was committed.
	ErrConcurrencyExhausted = errors.New("transaction retries exhausted")
	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("rate limited")
)

var (
	// ErrDilemmaNotFound indicates the dilemma id is unknown.
	ErrDilemmaNotFound = fmt.Errorf("dilemma %w", ErrNotFound)
	// ErrDilemmaResolved is returned when resolving a dilemma twice.
	ErrDilemmaResolved = fmt.Errorf("dilemma already resolved: %w", ErrConflict)
	// ErrDilemmaNotResolved is returned when settling an open dilemma.
	ErrDilemmaNotResolved = fmt.Errorf("dilemma not resolved: %w", ErrConflict)
	// ErrVotingClosed is returned for votes after resolution or past the deadline.
	ErrVotingClosed = fmt.Errorf("deadline passed or resolved: %w", ErrConflict)
	// ErrVoteAlreadyMarked is returned when a payout page touches a vote that
	// another payout already marked.
	ErrVoteAlreadyMarked = fmt.Errorf("vote already settled: %w", ErrConflict)
	// ErrAnswerRequired indicates resolve was called without a correct answer.
	ErrAnswerRequired = fmt.Errorf("%w: correct answer required", ErrValidation)
	// ErrUnknownOption indicates an option id not declared on the dilemma.
	ErrUnknownOption = fmt.Errorf("%w: unknown option id", ErrValidation)
	// ErrChoiceRequired indicates a vote without a choice for the dilemma variant.
	ErrChoiceRequired = fmt.Errorf("%w: choice required for dilemma variant", ErrValidation)
	// ErrUserRequired indicates a missing user id.
	ErrUserRequired = fmt.Errorf("%w: user id required", ErrValidation)
)

// Invalidf builds a validation error with a caller-facing message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitError reports how long the caller has to wait.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Scope, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
