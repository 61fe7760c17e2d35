// Package errs defines the typed error taxonomy for the pharmacy core.
// Every failure crossing a service boundary carries one of these kinds;
// handlers map kinds to HTTP statuses and callers branch with errors.As.
package errs

import "fmt"

// ValidationError reports malformed or out-of-policy input. The caller can
// recover by correcting the input; it is never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// StateError reports an operation attempted from an illegal current state.
type StateError struct {
	Entity  string
	Current string
	Attempt string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in status %s: %s not allowed", e.Entity, e.Current, e.Attempt)
}

// AuthorizationError reports a missing role or ownership requirement.
type AuthorizationError struct {
	Role   string
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %s not permitted to %s", e.Role, e.Action)
}

// NotFoundError reports a missing or inactive referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PrescriptionRequiredError reports an order containing prescription-only
// medicines without a usable approved prescription.
type PrescriptionRequiredError struct {
	ProductID string
	Reason    string
}

func (e *PrescriptionRequiredError) Error() string {
	return fmt.Sprintf("prescription required for product %s: %s", e.ProductID, e.Reason)
}

// MedicineMismatchError reports an ordered prescription-only medicine that is
// not listed on the linked prescription.
type MedicineMismatchError struct {
	ProductID   string
	ProductName string
}

func (e *MedicineMismatchError) Error() string {
	return fmt.Sprintf("product %s (%s) is not listed on the prescription", e.ProductID, e.ProductName)
}

// QuantityExceededError reports an ordered quantity above the prescribed
// limit. Ordered is the aggregate across all order lines for the product.
type QuantityExceededError struct {
	ProductID  string
	Ordered    int
	Prescribed int
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("product %s: ordered %d exceeds prescribed %d", e.ProductID, e.Ordered, e.Prescribed)
}

// StockError reports insufficient inventory at validation time.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// ConcurrentModificationError reports an optimistic-lock conflict. The caller
// may retry the whole operation from scratch.
type ConcurrentModificationError struct {
	Entity string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

// DependencyTimeoutError reports an external collaborator that did not
// respond within its bounded timeout. Not retried internally.
type DependencyTimeoutError struct {
	Dependency string
	Cause      error
}

func (e *DependencyTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dependency %s timed out: %v", e.Dependency, e.Cause)
	}
	return fmt.Sprintf("dependency %s timed out", e.Dependency)
}

func (e *DependencyTimeoutError) Unwrap() error { return e.Cause }

// ReturnWindowError reports a return request outside the allowed window or
// against items not eligible for return.
type ReturnWindowError struct {
	OrderID string
	Reason  string
}

func (e *ReturnWindowError) Error() string {
	return fmt.Sprintf("order %s not returnable: %s", e.OrderID, e.Reason)
}
