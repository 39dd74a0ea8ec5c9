// internal/payments/decide.go
package payments

import (
	"fmt"

	"github.com/google/uuid"
)

// Charge creation failure reasons, recorded on ChargeCreationFailedEvent.
const (
	ReasonCurrencyMismatch   = "currency mismatch"
	ReasonNoPayinMethod      = "no payin method found"
	ReasonNoDirectDebit      = "direct debit mandate not received in Trustly"
	ReasonAdyenNotAuthorised = "adyen recurring is not authorised"
)

// Env holds read-only facts looked up outside the aggregate for one command.
type Env struct {
	// PreferredCurrency of the member, needed by CreateChargeCommand only.
	PreferredCurrency string
}

// Decision is the outcome of a command. When Decide also returns an error,
// Events are audit records that must still be persisted before the error is
// reported.
type Decision struct {
	Events         []Event
	Charge         *ChargeMemberResult
	PayoutAccepted bool
}

// Decide runs a command against the current state and returns the events
// it produces. It never modifies m.
func (m *Member) Decide(cmd Command, env Env) (Decision, error) {
	if err := cmd.Validate(); err != nil {
		return Decision{}, err
	}
	if _, ok := cmd.(CreateMemberCommand); !ok && !m.Exists() {
		return Decision{}, fmt.Errorf("%w: %s", ErrMemberNotFound, cmd.AggregateID())
	}

	switch c := cmd.(type) {
	case CreateMemberCommand:
		return m.decideCreateMember(c), nil
	case CreateChargeCommand:
		return m.decideCreateCharge(c, env)
	case CreatePayoutCommand:
		return m.decideCreatePayout(c)
	case UpdateTrustlyAccountCommand:
		return m.decideUpdateTrustlyAccount(c), nil
	case UpdateAdyenAccountCommand:
		return m.decideUpdateAdyenAccount(c), nil
	case UpdateAdyenPayoutAccountCommand:
		return m.decideUpdateAdyenPayoutAccount(c), nil
	case ChargeCompletedCommand:
		return m.decideChargeCompleted(c)
	case ChargeFailedCommand:
		return m.decideChargeFailed(c)
	case PayoutCompletedCommand:
		return m.decidePayoutCompleted(c)
	case PayoutFailedCommand:
		return Decision{Events: []Event{PayoutFailedEvent{
			MemberID:      m.ID,
			TransactionID: c.TransactionID,
			Amount:        c.Amount,
			Timestamp:     c.Timestamp,
		}}}, nil
	default:
		return Decision{}, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
	}
}

func (m *Member) decideCreateMember(c CreateMemberCommand) Decision {
	if m.Exists() {
		return Decision{}
	}
	return Decision{Events: []Event{MemberCreatedEvent{MemberID: c.MemberID}}}
}

func (m *Member) decideCreateCharge(c CreateChargeCommand, env Env) (Decision, error) {
	if len(m.findTransactions(c.TransactionID)) > 0 {
		return Decision{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, c.TransactionID)
	}

	fail := func(reason string, result ChargeResultType) (Decision, error) {
		return Decision{
			Events: []Event{ChargeCreationFailedEvent{
				MemberID:      m.ID,
				TransactionID: c.TransactionID,
				Amount:        c.Amount,
				Timestamp:     c.Timestamp,
				Reason:        reason,
			}},
			Charge: &ChargeMemberResult{TransactionID: c.TransactionID, Type: result},
		}, nil
	}

	if c.Amount.Currency != env.PreferredCurrency {
		return fail(ReasonCurrencyMismatch, ChargeCurrencyMismatch)
	}
	if len(m.TrustlyAccounts) == 0 && m.AdyenAccount == nil {
		return fail(ReasonNoPayinMethod, ChargeNoPayinMethodFound)
	}

	trustly, hasTrustly := m.LatestTrustlyAccount()
	if hasTrustly && trustly.DirectDebitStatus != DirectDebitConnected {
		return fail(ReasonNoDirectDebit, ChargeNoDirectDebit)
	}
	if !hasTrustly && m.AdyenAccount != nil && m.AdyenAccount.Status != AdyenAuthorised {
		return fail(ReasonAdyenNotAuthorised, ChargeAdyenNotAuthorised)
	}

	created := ChargeCreatedEvent{
		MemberID:      m.ID,
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Timestamp:     c.Timestamp,
		Email:         c.Email,
		CreatedBy:     c.CreatedBy,
	}
	switch {
	case hasTrustly:
		created.Provider, created.ProviderID = ProviderTrustly, trustly.AccountID
	case m.AdyenAccount != nil:
		created.Provider, created.ProviderID = ProviderAdyen, m.AdyenAccount.RecurringDetailReference
	default:
		return Decision{}, fmt.Errorf("%w: member %s has no provider for charge %s",
			ErrConsistencyViolation, m.ID, c.TransactionID)
	}

	return Decision{
		Events: []Event{created},
		Charge: &ChargeMemberResult{TransactionID: c.TransactionID, Type: ChargeSuccess},
	}, nil
}

func (m *Member) decideCreatePayout(c CreatePayoutCommand) (Decision, error) {
	if len(m.findTransactions(c.TransactionID)) > 0 {
		return Decision{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, c.TransactionID)
	}

	created := PayoutCreatedEvent{
		MemberID:      m.ID,
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Address:       c.Address,
		CountryCode:   c.CountryCode,
		DateOfBirth:   c.DateOfBirth,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Timestamp:     c.Timestamp,
		Category:      c.Category,
		ReferenceID:   c.ReferenceID,
		Note:          c.Note,
		Handler:       c.Handler,
		Email:         c.Email,
	}

	if trustly, ok := m.LatestTrustlyAccount(); ok {
		created.TrustlyAccountID = trustly.AccountID
		return Decision{Events: []Event{created}, PayoutAccepted: true}, nil
	}
	if m.AdyenPayoutAccount != nil {
		created.AdyenShopperReference = m.AdyenPayoutAccount.ShopperReference
		return Decision{Events: []Event{created}, PayoutAccepted: true}, nil
	}

	return Decision{Events: []Event{PayoutCreationFailedEvent{
		MemberID:      m.ID,
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Timestamp:     c.Timestamp,
	}}}, nil
}

// shouldCreateTrustlyAccount reports whether a mandate id starts a new
// account. A known id that is not the latest is updated in place, not
// re-created.
func (m *Member) shouldCreateTrustlyAccount(c UpdateTrustlyAccountCommand) bool {
	if len(m.TrustlyAccounts) == 0 {
		return true
	}
	_, known := m.TrustlyAccounts[c.HedvigOrderID]
	return m.LatestHedvigOrderID != c.HedvigOrderID && !known
}

func (m *Member) decideUpdateTrustlyAccount(c UpdateTrustlyAccountCommand) Decision {
	var events []Event
	create := m.shouldCreateTrustlyAccount(c)
	if create {
		events = append(events, TrustlyAccountCreatedEvent{
			MemberID:           m.ID,
			HedvigOrderID:      c.HedvigOrderID,
			TrustlyAccountID:   c.AccountID,
			TrustlyBankDetails: c.TrustlyBankDetails,
		})
	} else {
		events = append(events, TrustlyAccountUpdatedEvent{
			MemberID:           m.ID,
			HedvigOrderID:      c.HedvigOrderID,
			TrustlyAccountID:   c.AccountID,
			TrustlyBankDetails: c.TrustlyBankDetails,
		})
	}

	switch c.DirectDebitMandateActive {
	case MandateActive:
		events = append(events, DirectDebitConnectedEvent{
			MemberID: m.ID, HedvigOrderID: c.HedvigOrderID, TrustlyAccountID: c.AccountID,
		})
	case MandateInactive:
		events = append(events, DirectDebitDisconnectedEvent{
			MemberID: m.ID, HedvigOrderID: c.HedvigOrderID, TrustlyAccountID: c.AccountID,
		})
	default:
		// A freshly created account has no status yet.
		status := DirectDebitUnknown
		if !create {
			status = m.TrustlyAccounts[c.HedvigOrderID].DirectDebitStatus
		}
		if status == DirectDebitUnknown || status == DirectDebitPending {
			events = append(events, DirectDebitPendingConnectionEvent{
				MemberID: m.ID, HedvigOrderID: c.HedvigOrderID, TrustlyAccountID: c.AccountID,
			})
		}
	}

	return Decision{Events: events}
}

func (m *Member) decideUpdateAdyenAccount(c UpdateAdyenAccountCommand) Decision {
	status := c.TokenStatus.AccountStatus()
	if m.AdyenAccount == nil || m.AdyenAccount.RecurringDetailReference != c.RecurringDetailReference {
		return Decision{Events: []Event{AdyenAccountCreatedEvent{
			MemberID: m.ID, RecurringDetailReference: c.RecurringDetailReference, AccountStatus: status,
		}}}
	}
	return Decision{Events: []Event{AdyenAccountUpdatedEvent{
		MemberID: m.ID, RecurringDetailReference: c.RecurringDetailReference, AccountStatus: status,
	}}}
}

func (m *Member) decideUpdateAdyenPayoutAccount(c UpdateAdyenPayoutAccountCommand) Decision {
	status := c.TokenStatus.AccountStatus()
	if m.AdyenPayoutAccount == nil || m.AdyenPayoutAccount.ShopperReference != c.ShopperReference {
		return Decision{Events: []Event{AdyenPayoutAccountCreatedEvent{
			MemberID: m.ID, ShopperReference: c.ShopperReference, AccountStatus: status,
		}}}
	}
	return Decision{Events: []Event{AdyenPayoutAccountUpdatedEvent{
		MemberID: m.ID, ShopperReference: c.ShopperReference, AccountStatus: status,
	}}}
}

// settleable finds the transaction a provider outcome refers to and checks
// it can still take a terminal status.
func (m *Member) settleable(id uuid.UUID, want TransactionType, to TransactionStatus) (Transaction, error) {
	i, err := m.singleTransaction(id)
	if err != nil {
		return Transaction{}, err
	}
	tx := m.Transactions[i]
	if tx.Type != want || tx.Status != StatusInitiated {
		return Transaction{}, &IllegalTransitionError{
			TransactionID: id, From: tx.Status, To: to, Type: tx.Type, Want: want,
		}
	}
	return tx, nil
}

func (m *Member) decideChargeCompleted(c ChargeCompletedCommand) (Decision, error) {
	tx, err := m.settleable(c.TransactionID, TransactionCharge, StatusCompleted)
	if err != nil {
		return Decision{}, err
	}
	if !tx.Amount.Equal(c.Amount) {
		mismatch := &AmountMismatchError{MemberID: m.ID, TransactionID: c.TransactionID, Expected: tx.Amount, Actual: c.Amount}
		return Decision{Events: []Event{ChargeErroredEvent{
			MemberID:      m.ID,
			TransactionID: c.TransactionID,
			Amount:        c.Amount,
			Reason:        mismatch.Error(),
			Timestamp:     c.Timestamp,
		}}}, mismatch
	}
	return Decision{Events: []Event{ChargeCompletedEvent{
		MemberID:      m.ID,
		TransactionID: c.TransactionID,
		Amount:        c.Amount,
		Timestamp:     c.Timestamp,
	}}}, nil
}

func (m *Member) decideChargeFailed(c ChargeFailedCommand) (Decision, error) {
	if _, err := m.settleable(c.TransactionID, TransactionCharge, StatusFailed); err != nil {
		return Decision{}, err
	}
	return Decision{Events: []Event{ChargeFailedEvent{MemberID: m.ID, TransactionID: c.TransactionID}}}, nil
}

func (m *Member) decidePayoutCompleted(c PayoutCompletedCommand) (Decision, error) {
	tx, err := m.settleable(c.TransactionID, TransactionPayout, StatusCompleted)
	if err != nil {
		return Decision{}, err
	}
	if !tx.Amount.Equal(c.Amount) {
		mismatch := &AmountMismatchError{MemberID: m.ID, TransactionID: c.TransactionID, Expected: tx.Amount, Actual: c.Amount}
		return Decision{Events: []Event{PayoutErroredEvent{
			MemberID:      m.ID,
			TransactionID: c.TransactionID,
			Amount:        c.Amount,
			Reason:        mismatch.Error(),
			Timestamp:     c.Timestamp,
		}}}, mismatch
	}
	return Decision{Events: []Event{PayoutCompletedEvent{
		MemberID:      m.ID,
		TransactionID: c.TransactionID,
		Timestamp:     c.Timestamp,
	}}}, nil
}
