// internal/payments/apply.go
package payments

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func malformed(e Event, format string, args ...any) error {
	return fmt.Errorf("%w: %s: "+format, append([]any{ErrMalformedEventStream, e.EventType()}, args...)...)
}

// Apply folds one event into the state. Every precondition is checked
// before anything is written, so a rejected event leaves m untouched.
func (m *Member) Apply(e Event) error {
	if created, ok := e.(MemberCreatedEvent); ok {
		if m.Exists() && m.ID != created.MemberID {
			return malformed(e, "member %s already exists as %s", created.MemberID, m.ID)
		}
		m.ID = created.MemberID
		return nil
	}
	if !m.Exists() {
		return malformed(e, "member does not exist")
	}

	switch ev := e.(type) {
	case ChargeCreatedEvent:
		return m.addTransaction(e, ev.TransactionID, ev.Amount, ev.Timestamp, TransactionCharge)
	case PayoutCreatedEvent:
		return m.addTransaction(e, ev.TransactionID, ev.Amount, ev.Timestamp, TransactionPayout)
	case ChargeCompletedEvent:
		return m.settle(e, ev.TransactionID, TransactionCharge, StatusCompleted)
	case ChargeFailedEvent:
		return m.settle(e, ev.TransactionID, TransactionCharge, StatusFailed)
	case PayoutCompletedEvent:
		return m.settle(e, ev.TransactionID, TransactionPayout, StatusCompleted)
	case PayoutFailedEvent:
		return m.settle(e, ev.TransactionID, TransactionPayout, StatusFailed)

	case ChargeCreationFailedEvent, PayoutCreationFailedEvent, ChargeErroredEvent, PayoutErroredEvent:
		// audit only

	case TrustlyAccountCreatedEvent:
		if _, exists := m.TrustlyAccounts[ev.HedvigOrderID]; exists {
			return malformed(e, "mandate %s already has an account", ev.HedvigOrderID)
		}
		if m.TrustlyAccounts == nil {
			m.TrustlyAccounts = make(map[uuid.UUID]TrustlyAccount)
		}
		m.TrustlyAccounts[ev.HedvigOrderID] = TrustlyAccount{AccountID: ev.TrustlyAccountID}
		m.LatestHedvigOrderID = ev.HedvigOrderID
	case TrustlyAccountUpdatedEvent:
		acc, ok := m.TrustlyAccounts[ev.HedvigOrderID]
		if !ok {
			return malformed(e, "unknown mandate %s", ev.HedvigOrderID)
		}
		acc.AccountID = ev.TrustlyAccountID
		m.TrustlyAccounts[ev.HedvigOrderID] = acc
	case DirectDebitConnectedEvent:
		return m.setDirectDebit(e, ev.HedvigOrderID, DirectDebitConnected)
	case DirectDebitDisconnectedEvent:
		return m.setDirectDebit(e, ev.HedvigOrderID, DirectDebitDisconnected)
	case DirectDebitPendingConnectionEvent:
		return m.setDirectDebit(e, ev.HedvigOrderID, DirectDebitPending)

	case AdyenAccountCreatedEvent:
		m.AdyenAccount = &AdyenAccount{RecurringDetailReference: ev.RecurringDetailReference, Status: ev.AccountStatus}
	case AdyenAccountUpdatedEvent:
		m.AdyenAccount = &AdyenAccount{RecurringDetailReference: ev.RecurringDetailReference, Status: ev.AccountStatus}
	case AdyenPayoutAccountCreatedEvent:
		m.AdyenPayoutAccount = &AdyenPayoutAccount{ShopperReference: ev.ShopperReference, Status: ev.AccountStatus}
	case AdyenPayoutAccountUpdatedEvent:
		m.AdyenPayoutAccount = &AdyenPayoutAccount{ShopperReference: ev.ShopperReference, Status: ev.AccountStatus}

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}
	return nil
}

func (m *Member) addTransaction(e Event, id uuid.UUID, amount Money, at time.Time, txType TransactionType) error {
	if len(m.findTransactions(id)) > 0 {
		return malformed(e, "transaction %s already exists", id)
	}
	m.Transactions = append(m.Transactions, Transaction{
		TransactionID: id,
		Amount:        amount,
		Timestamp:     at,
		Type:          txType,
		Status:        StatusInitiated,
	})
	return nil
}

func (m *Member) settle(e Event, id uuid.UUID, txType TransactionType, to TransactionStatus) error {
	i, err := m.singleTransaction(id)
	if err != nil {
		return malformed(e, "%v", err)
	}
	tx := &m.Transactions[i]
	if tx.Type != txType || tx.Status != StatusInitiated {
		return malformed(e, "%v", &IllegalTransitionError{
			TransactionID: id, From: tx.Status, To: to, Type: tx.Type, Want: txType,
		})
	}
	tx.Status = to
	return nil
}

func (m *Member) setDirectDebit(e Event, mandate uuid.UUID, status DirectDebitStatus) error {
	acc, ok := m.TrustlyAccounts[mandate]
	if !ok {
		return malformed(e, "unknown mandate %s", mandate)
	}
	acc.DirectDebitStatus = status
	m.TrustlyAccounts[mandate] = acc
	return nil
}

// ApplyAll folds events in order and stops at the first one that does not
// apply. Events before it stay applied.
func (m *Member) ApplyAll(events []Event) error {
	for i, e := range events {
		if err := m.Apply(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// Replay rebuilds a member from its full history.
func Replay(events []Event) (*Member, error) {
	m := NewMember()
	if err := m.ApplyAll(events); err != nil {
		return nil, err
	}
	return m, nil
}
