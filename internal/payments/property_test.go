package payments

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	propTransactions = []uuid.UUID{
		uuid.MustParse("0b7c1d8e-0000-4000-8000-000000000001"),
		uuid.MustParse("0b7c1d8e-0000-4000-8000-000000000002"),
		uuid.MustParse("0b7c1d8e-0000-4000-8000-000000000003"),
		uuid.MustParse("0b7c1d8e-0000-4000-8000-000000000004"),
	}
	propMandates = []uuid.UUID{orderA, orderB, uuid.MustParse("6f1c3c4e-0000-4000-8000-00000000000c")}
	propAmounts  = []Money{
		MustMoney("100.00", "SEK"),
		MustMoney("100.0", "SEK"),
		MustMoney("99.99", "SEK"),
		MustMoney("100.00", "EUR"),
	}
	propTokens = []TokenRegistrationStatus{TokenAuthorised, TokenPending, TokenCancelled, TokenFailed}
)

// memberMachine drives one member with random commands and remembers what
// it has seen so far.
type memberMachine struct {
	m        *Member
	events   []Event
	amounts  map[uuid.UUID]Money
	statuses map[uuid.UUID]TransactionStatus
}

func newMemberMachine(t *rapid.T) *memberMachine {
	mm := &memberMachine{
		m:        NewMember(),
		amounts:  make(map[uuid.UUID]Money),
		statuses: make(map[uuid.UUID]TransactionStatus),
	}
	mm.step(t, CreateMemberCommand{MemberID: testMemberID}, Env{})
	return mm
}

// step decides and folds a command. Events the aggregate refuses to fold are
// dropped, which only a PayoutFailed for a transaction that cannot fail may
// cause.
func (mm *memberMachine) step(t *rapid.T, cmd Command, env Env) (Decision, error) {
	d, err := mm.m.Decide(cmd, env)
	require.NotErrorIs(t, err, ErrInvalidCommand)
	if err != nil && len(d.Events) > 0 {
		var mismatch *AmountMismatchError
		require.ErrorAs(t, err, &mismatch)
	}

	before := mm.m.Clone()
	if applyErr := mm.m.ApplyAll(d.Events); applyErr != nil {
		_, payoutFailed := cmd.(PayoutFailedCommand)
		require.True(t, payoutFailed, "%T produced events that do not apply: %v", cmd, applyErr)
		require.ErrorIs(t, applyErr, ErrMalformedEventStream)
		mm.m = before
		return d, err
	}
	mm.events = append(mm.events, d.Events...)
	return d, err
}

func (mm *memberMachine) check(t *rapid.T) {
	seen := make(map[uuid.UUID]bool)
	for _, tx := range mm.m.Transactions {
		require.False(t, seen[tx.TransactionID], "transaction %s recorded twice", tx.TransactionID)
		seen[tx.TransactionID] = true

		if amount, ok := mm.amounts[tx.TransactionID]; ok {
			require.Equal(t, amount, tx.Amount, "amount of %s changed", tx.TransactionID)
		}
		mm.amounts[tx.TransactionID] = tx.Amount

		if prev, ok := mm.statuses[tx.TransactionID]; ok && prev != StatusInitiated {
			require.Equal(t, prev, tx.Status, "terminal status of %s changed", tx.TransactionID)
		}
		mm.statuses[tx.TransactionID] = tx.Status
	}

	if len(mm.m.TrustlyAccounts) > 0 {
		require.Contains(t, mm.m.TrustlyAccounts, mm.m.LatestHedvigOrderID)
	}

	replayed, err := Replay(mm.events)
	require.NoError(t, err)
	require.Equal(t, mm.m, replayed)
}

func TestMemberInvariantsHoldForAnyCommandSequence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mm := newMemberMachine(t)
		drawTx := func(t *rapid.T) uuid.UUID { return rapid.SampledFrom(propTransactions).Draw(t, "transaction") }
		drawAmount := func(t *rapid.T) Money { return rapid.SampledFrom(propAmounts).Draw(t, "amount") }

		t.Repeat(map[string]func(*rapid.T){
			"createMember": func(t *rapid.T) {
				before := mm.m.Clone()
				d, err := mm.step(t, CreateMemberCommand{MemberID: testMemberID}, Env{})
				require.NoError(t, err)
				require.Empty(t, d.Events)
				require.Equal(t, before, mm.m)
			},
			"charge": func(t *rapid.T) {
				hasTrustly := len(mm.m.TrustlyAccounts) > 0
				cmd := CreateChargeCommand{MemberID: testMemberID, TransactionID: drawTx(t), Amount: drawAmount(t), Timestamp: testTime}
				d, err := mm.step(t, cmd, sekEnv)
				if err != nil {
					require.ErrorIs(t, err, ErrDuplicateTransaction)
					return
				}
				require.NotNil(t, d.Charge)
				if d.Charge.Type == ChargeSuccess && hasTrustly {
					created, ok := d.Events[0].(ChargeCreatedEvent)
					require.True(t, ok)
					require.Equal(t, ProviderTrustly, created.Provider)
				}
			},
			"payout": func(t *rapid.T) {
				cmd := payoutCmd(drawAmount(t))
				cmd.TransactionID = drawTx(t)
				if _, err := mm.step(t, cmd, Env{}); err != nil {
					require.ErrorIs(t, err, ErrDuplicateTransaction)
				}
			},
			"trustly": func(t *rapid.T) {
				mandate := rapid.SampledFrom(propMandates).Draw(t, "mandate")
				state := rapid.SampledFrom([]MandateState{MandateUnknown, MandateActive, MandateInactive}).Draw(t, "mandateState")
				prev, known := mm.m.TrustlyAccounts[mandate]

				_, err := mm.step(t, UpdateTrustlyAccountCommand{
					MemberID:                 testMemberID,
					HedvigOrderID:            mandate,
					AccountID:                rapid.SampledFrom([]string{"acc-1", "acc-2"}).Draw(t, "account"),
					DirectDebitMandateActive: state,
				}, Env{})
				require.NoError(t, err)

				if state == MandateUnknown && known &&
					(prev.DirectDebitStatus == DirectDebitConnected || prev.DirectDebitStatus == DirectDebitDisconnected) {
					require.Equal(t, prev.DirectDebitStatus, mm.m.TrustlyAccounts[mandate].DirectDebitStatus)
				}
			},
			"adyen": func(t *rapid.T) {
				_, err := mm.step(t, UpdateAdyenAccountCommand{
					MemberID:                 testMemberID,
					RecurringDetailReference: rapid.SampledFrom([]string{"rec-1", "rec-2"}).Draw(t, "reference"),
					TokenStatus:              rapid.SampledFrom(propTokens).Draw(t, "token"),
				}, Env{})
				require.NoError(t, err)
			},
			"adyenPayout": func(t *rapid.T) {
				_, err := mm.step(t, UpdateAdyenPayoutAccountCommand{
					MemberID:         testMemberID,
					ShopperReference: rapid.SampledFrom([]string{"shopper-1", "shopper-2"}).Draw(t, "shopper"),
					TokenStatus:      rapid.SampledFrom(propTokens).Draw(t, "token"),
				}, Env{})
				require.NoError(t, err)
			},
			"chargeCompleted": func(t *rapid.T) {
				mm.step(t, ChargeCompletedCommand{MemberID: testMemberID, TransactionID: drawTx(t), Amount: drawAmount(t), Timestamp: testTime}, Env{})
			},
			"chargeFailed": func(t *rapid.T) {
				mm.step(t, ChargeFailedCommand{MemberID: testMemberID, TransactionID: drawTx(t)}, Env{})
			},
			"payoutCompleted": func(t *rapid.T) {
				mm.step(t, PayoutCompletedCommand{MemberID: testMemberID, TransactionID: drawTx(t), Amount: drawAmount(t), Timestamp: testTime}, Env{})
			},
			"payoutFailed": func(t *rapid.T) {
				mm.step(t, PayoutFailedCommand{MemberID: testMemberID, TransactionID: drawTx(t), Amount: drawAmount(t), Timestamp: testTime}, Env{})
			},
			"": mm.check,
		})
	})
}

func TestOutcomeErrorsAreConsistencyViolations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mm := newMemberMachine(t)
		id := drawOutcomeTarget(t, mm)

		cmds := []Command{
			ChargeCompletedCommand{MemberID: testMemberID, TransactionID: id, Amount: MustMoney("1", "SEK"), Timestamp: testTime},
			ChargeFailedCommand{MemberID: testMemberID, TransactionID: id},
			PayoutCompletedCommand{MemberID: testMemberID, TransactionID: id, Amount: MustMoney("1", "SEK"), Timestamp: testTime},
		}
		for _, cmd := range cmds {
			_, err := mm.m.Decide(cmd, Env{})
			if err == nil {
				continue
			}
			var mismatch *AmountMismatchError
			if !errors.As(err, &mismatch) {
				require.ErrorIs(t, err, ErrConsistencyViolation)
			}
		}
	})
}

// drawOutcomeTarget sets up zero or one transaction and returns an id that a
// provider outcome may refer to.
func drawOutcomeTarget(t *rapid.T, mm *memberMachine) uuid.UUID {
	id := propTransactions[0]
	mm.step(t, UpdateTrustlyAccountCommand{MemberID: testMemberID, HedvigOrderID: orderA, AccountID: "acc-1", DirectDebitMandateActive: MandateActive}, Env{})
	switch rapid.IntRange(0, 2).Draw(t, "setup") {
	case 1:
		mm.step(t, CreateChargeCommand{MemberID: testMemberID, TransactionID: id, Amount: MustMoney("1", "SEK"), Timestamp: testTime}, sekEnv)
	case 2:
		cmd := payoutCmd(MustMoney("1", "SEK"))
		cmd.TransactionID = id
		mm.step(t, cmd, Env{})
	}
	return id
}
