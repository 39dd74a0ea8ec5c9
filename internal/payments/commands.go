// internal/payments/commands.go
package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command is the closed set of requests a Member aggregate accepts.
type Command interface {
	// AggregateID is the member the command is addressed to.
	AggregateID() string
	// Validate checks the command on its own, before any state is read.
	Validate() error
	isCommand()
}

// MandateState is the tri-state direct debit report from Trustly.
type MandateState int

const (
	MandateUnknown MandateState = iota
	MandateActive
	MandateInactive
)

// MandateFromBool maps an optional provider flag onto a MandateState.
func MandateFromBool(active *bool) MandateState {
	switch {
	case active == nil:
		return MandateUnknown
	case *active:
		return MandateActive
	default:
		return MandateInactive
	}
}

type CreateMemberCommand struct {
	MemberID string
}

type CreateChargeCommand struct {
	MemberID      string
	TransactionID uuid.UUID
	Amount        Money
	Timestamp     time.Time
	Email         string
	CreatedBy     string
}

type CreatePayoutCommand struct {
	MemberID      string
	TransactionID uuid.UUID
	Amount        Money
	Address       string
	CountryCode   string
	DateOfBirth   time.Time
	FirstName     string
	LastName      string
	Timestamp     time.Time
	Category      string
	ReferenceID   string
	Note          string
	Handler       string
	Email         string
}

// TrustlyBankDetails is what Trustly reports about the account behind a
// mandate. It is carried to read models and never inspected here.
type TrustlyBankDetails struct {
	Address       string `json:"address,omitempty"`
	Bank          string `json:"bank,omitempty"`
	City          string `json:"city,omitempty"`
	ClearingHouse string `json:"clearingHouse,omitempty"`
	Descriptor    string `json:"descriptor,omitempty"`
	LastDigits    string `json:"lastDigits,omitempty"`
	Name          string `json:"name,omitempty"`
	ZipCode       string `json:"zipCode,omitempty"`
}

type UpdateTrustlyAccountCommand struct {
	MemberID                 string
	HedvigOrderID            uuid.UUID
	AccountID                string
	DirectDebitMandateActive MandateState
	TrustlyBankDetails
}

type UpdateAdyenAccountCommand struct {
	MemberID                 string
	RecurringDetailReference string
	TokenStatus              TokenRegistrationStatus
}

type UpdateAdyenPayoutAccountCommand struct {
	MemberID         string
	ShopperReference string
	TokenStatus      TokenRegistrationStatus
}

type ChargeCompletedCommand struct {
	MemberID      string
	TransactionID uuid.UUID
	Amount        Money
	Timestamp     time.Time
}

type ChargeFailedCommand struct {
	MemberID      string
	TransactionID uuid.UUID
}

type PayoutCompletedCommand struct {
	MemberID      string
	TransactionID uuid.UUID
	Amount        Money
	Timestamp     time.Time
}

type PayoutFailedCommand struct {
	MemberID      string
	TransactionID uuid.UUID
	Amount        Money
	Timestamp     time.Time
}

func (c CreateMemberCommand) AggregateID() string             { return c.MemberID }
func (c CreateChargeCommand) AggregateID() string             { return c.MemberID }
func (c CreatePayoutCommand) AggregateID() string             { return c.MemberID }
func (c UpdateTrustlyAccountCommand) AggregateID() string     { return c.MemberID }
func (c UpdateAdyenAccountCommand) AggregateID() string       { return c.MemberID }
func (c UpdateAdyenPayoutAccountCommand) AggregateID() string { return c.MemberID }
func (c ChargeCompletedCommand) AggregateID() string          { return c.MemberID }
func (c ChargeFailedCommand) AggregateID() string             { return c.MemberID }
func (c PayoutCompletedCommand) AggregateID() string          { return c.MemberID }
func (c PayoutFailedCommand) AggregateID() string             { return c.MemberID }

func (CreateMemberCommand) isCommand()             {}
func (CreateChargeCommand) isCommand()             {}
func (CreatePayoutCommand) isCommand()             {}
func (UpdateTrustlyAccountCommand) isCommand()     {}
func (UpdateAdyenAccountCommand) isCommand()       {}
func (UpdateAdyenPayoutAccountCommand) isCommand() {}
func (ChargeCompletedCommand) isCommand()          {}
func (ChargeFailedCommand) isCommand()             {}
func (PayoutCompletedCommand) isCommand()          {}
func (PayoutFailedCommand) isCommand()             {}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidCommand}, args...)...)
}

func requireMember(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("member id is required")
	}
	return nil
}

func requireTransaction(id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid("transaction id is required")
	}
	return nil
}

func requireAmount(m Money) error {
	if len(m.Currency) != 3 {
		return invalid("amount currency %q", m.Currency)
	}
	if m.Amount.IsNegative() {
		return invalid("amount %s is negative", m)
	}
	return nil
}

func (c CreateMemberCommand) Validate() error {
	return requireMember(c.MemberID)
}

func (c CreateChargeCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if err := requireTransaction(c.TransactionID); err != nil {
		return err
	}
	return requireAmount(c.Amount)
}

func (c CreatePayoutCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if err := requireTransaction(c.TransactionID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Category) == "" {
		return invalid("payout category is required")
	}
	return requireAmount(c.Amount)
}

func (c UpdateTrustlyAccountCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if c.HedvigOrderID == uuid.Nil {
		return invalid("hedvig order id is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return invalid("trustly account id is required")
	}
	return nil
}

func validToken(s TokenRegistrationStatus) error {
	_, err := ParseTokenRegistrationStatus(string(s))
	return err
}

func (c UpdateAdyenAccountCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if strings.TrimSpace(c.RecurringDetailReference) == "" {
		return invalid("recurring detail reference is required")
	}
	return validToken(c.TokenStatus)
}

func (c UpdateAdyenPayoutAccountCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if strings.TrimSpace(c.ShopperReference) == "" {
		return invalid("shopper reference is required")
	}
	return validToken(c.TokenStatus)
}

func (c ChargeCompletedCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if err := requireTransaction(c.TransactionID); err != nil {
		return err
	}
	return requireAmount(c.Amount)
}

func (c ChargeFailedCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	return requireTransaction(c.TransactionID)
}

func (c PayoutCompletedCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	if err := requireTransaction(c.TransactionID); err != nil {
		return err
	}
	return requireAmount(c.Amount)
}

func (c PayoutFailedCommand) Validate() error {
	if err := requireMember(c.MemberID); err != nil {
		return err
	}
	return requireTransaction(c.TransactionID)
}
