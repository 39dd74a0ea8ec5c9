// internal/payments/errors.go
package payments

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"paymentservice/pkg/eventstore"
)

var (
	// ErrInvalidCommand is returned when a command is malformed before it
	// reaches the aggregate (bad id, unparsable amount, unknown status).
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMemberNotFound is returned for any command other than CreateMember
	// against a member with no history.
	ErrMemberNotFound = errors.New("member not found")

	// ErrDuplicateTransaction is returned when a charge or payout reuses a
	// transaction id the member already has.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrConsistencyViolation marks failures that need manual reconciliation.
	ErrConsistencyViolation = errors.New("consistency violation")

	// ErrMalformedEventStream is returned when an event does not fit the
	// state it is applied to. Replay stops at the first such event.
	ErrMalformedEventStream = errors.New("malformed event stream")

	// ErrUnknownEventType is returned when decoding an event type this
	// package does not define.
	ErrUnknownEventType = errors.New("unknown event type")
)

// AmountMismatchError is raised when a provider reports a different amount
// than the one recorded at creation.
type AmountMismatchError struct {
	MemberID      string
	TransactionID uuid.UUID
	Expected      Money
	Actual        Money
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("Transaction amounts differ (expected %s but was %s)", e.Expected, e.Actual)
}

func (e *AmountMismatchError) Unwrap() error {
	return ErrConsistencyViolation
}

// TransactionLookupError is raised when a transaction id does not resolve to
// exactly one transaction.
type TransactionLookupError struct {
	MemberID      string
	TransactionID uuid.UUID
	Matches       int
}

func (e *TransactionLookupError) Error() string {
	return fmt.Sprintf("member %s: expected exactly one transaction %s, found %d", e.MemberID, e.TransactionID, e.Matches)
}

func (e *TransactionLookupError) Unwrap() error {
	return ErrConsistencyViolation
}

// IllegalTransitionError is raised when a terminal status is reported for
// a transaction that already left INITIATED, or for the wrong type.
type IllegalTransitionError struct {
	TransactionID uuid.UUID
	From          TransactionStatus
	To            TransactionStatus
	Type          TransactionType
	Want          TransactionType
}

func (e *IllegalTransitionError) Error() string {
	if e.Type != e.Want {
		return fmt.Sprintf("transaction %s is a %s, not a %s", e.TransactionID, e.Type, e.Want)
	}
	return fmt.Sprintf("transaction %s cannot move from %s to %s", e.TransactionID, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrConsistencyViolation
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidCommand)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound)
}

// IsConsistencyViolation also covers malformed streams: both surface as
// opaque internal failures.
func IsConsistencyViolation(err error) bool {
	return errors.Is(err, ErrConsistencyViolation) || errors.Is(err, ErrMalformedEventStream)
}

func IsRetryable(err error) bool {
	return errors.Is(err, eventstore.ErrConcurrencyConflict)
}
