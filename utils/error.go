package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorDuplicate(column string) error { return errors.New("duplicate " + column) }

// ErrorKind classifies posting failures so the HTTP layer can map them to
// responses without string matching.
type ErrorKind string

const (
	ErrorKindInvalidReference    ErrorKind = "InvalidReference"
	ErrorKindUnbalancedEntry     ErrorKind = "UnbalancedEntry"
	ErrorKindInsufficientStock   ErrorKind = "InsufficientStock"
	ErrorKindConfigurationError  ErrorKind = "ConfigurationError"
	ErrorKindConcurrencyConflict ErrorKind = "ConcurrencyConflict"
)

// PostingError is the structured error surfaced by the posting core. Every
// kind aborts the enclosing transaction; nothing is partially committed.
type PostingError struct {
	Kind    ErrorKind
	Message string

	// UnbalancedEntry context
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal

	// InsufficientStock context
	ItemId      int
	WarehouseId int
	Available   decimal.Decimal
	Requested   decimal.Decimal

	// ConfigurationError context
	SystemCode string

	// InvalidReference context
	Reference string

	Err error
}

func (e *PostingError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *PostingError) Unwrap() error { return e.Err }

// Is lets callers match errors.Is(err, &PostingError{Kind: ...}).
func (e *PostingError) Is(target error) bool {
	t, ok := target.(*PostingError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewInvalidReference(reference string, format string, args ...any) *PostingError {
	return &PostingError{
		Kind:      ErrorKindInvalidReference,
		Message:   fmt.Sprintf(format, args...),
		Reference: reference,
	}
}

func NewUnbalancedEntry(totalDebit, totalCredit decimal.Decimal) *PostingError {
	return &PostingError{
		Kind:        ErrorKindUnbalancedEntry,
		Message:     fmt.Sprintf("debit total %s does not equal credit total %s", totalDebit.StringFixed(2), totalCredit.StringFixed(2)),
		TotalDebit:  totalDebit,
		TotalCredit: totalCredit,
	}
}

func NewInsufficientStock(itemId int, warehouseId int, available, requested decimal.Decimal) *PostingError {
	return &PostingError{
		Kind:        ErrorKindInsufficientStock,
		Message:     fmt.Sprintf("available %s, requested %s (item=%d warehouse=%d)", available.String(), requested.String(), itemId, warehouseId),
		ItemId:      itemId,
		WarehouseId: warehouseId,
		Available:   available,
		Requested:   requested,
	}
}

func NewConfigurationError(systemCode string, format string, args ...any) *PostingError {
	return &PostingError{
		Kind:       ErrorKindConfigurationError,
		Message:    fmt.Sprintf(format, args...),
		SystemCode: systemCode,
	}
}

func NewConcurrencyConflict(err error) *PostingError {
	return &PostingError{
		Kind:    ErrorKindConcurrencyConflict,
		Message: "could not serialize posting; retry",
		Err:     err,
	}
}

// KindOf returns the posting error kind, or "" for plain errors.
func KindOf(err error) ErrorKind {
	var pe *PostingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
