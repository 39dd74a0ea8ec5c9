// Package payments holds the per-member payment aggregate: its state, the
// commands it accepts, the events it emits and the gateway that runs
// commands against the event log.
package payments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateType is the event-store aggregate type of Member streams.
const AggregateType = "member"

type TransactionType string

const (
	TransactionCharge TransactionType = "CHARGE"
	TransactionPayout TransactionType = "PAYOUT"
)

type TransactionStatus string

const (
	StatusInitiated TransactionStatus = "INITIATED"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// DirectDebitStatus of a Trustly mandate. The zero value means the provider
// has not reported on the mandate yet.
type DirectDebitStatus string

const (
	DirectDebitUnknown      DirectDebitStatus = ""
	DirectDebitPending      DirectDebitStatus = "PENDING"
	DirectDebitConnected    DirectDebitStatus = "CONNECTED"
	DirectDebitDisconnected DirectDebitStatus = "DISCONNECTED"
)

type AdyenAccountStatus string

const (
	AdyenAuthorised AdyenAccountStatus = "AUTHORISED"
	AdyenPending    AdyenAccountStatus = "PENDING"
	AdyenCancelled  AdyenAccountStatus = "CANCELLED"
)

// TokenRegistrationStatus is the outcome Adyen reports for a token
// (recurring detail) registration.
type TokenRegistrationStatus string

const (
	TokenAuthorised TokenRegistrationStatus = "AUTHORISED"
	TokenPending    TokenRegistrationStatus = "PENDING"
	TokenCancelled  TokenRegistrationStatus = "CANCELLED"
	TokenFailed     TokenRegistrationStatus = "FAILED"
)

// ParseTokenRegistrationStatus validates a provider supplied status.
func ParseTokenRegistrationStatus(s string) (TokenRegistrationStatus, error) {
	status := TokenRegistrationStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case TokenAuthorised, TokenPending, TokenCancelled, TokenFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown token registration status %q", ErrInvalidCommand, s)
}

// AccountStatus maps a token registration outcome onto the account status.
func (s TokenRegistrationStatus) AccountStatus() AdyenAccountStatus {
	switch s {
	case TokenAuthorised:
		return AdyenAuthorised
	case TokenPending:
		return AdyenPending
	default:
		return AdyenCancelled
	}
}

type PayinProvider string

const (
	ProviderTrustly PayinProvider = "TRUSTLY"
	ProviderAdyen   PayinProvider = "ADYEN"
)

// CategoryClaim is the default payout category. Other categories are
// carried as opaque upper-case strings.
const CategoryClaim = "CLAIM"

// Money is an amount in a single ISO 4217 currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney parses a decimal amount string.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidCommand, amount, err)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("%w: currency %q", ErrInvalidCommand, currency)
	}
	return Money{Amount: normalizeScale(d), Currency: currency}, nil
}

// normalizeScale folds a positive exponent (1e3) into the coefficient so
// every amount keeps the scale it was written with and round-trips exactly.
func normalizeScale(d decimal.Decimal) decimal.Decimal {
	if d.Exponent() > 0 {
		return decimal.RequireFromString(d.String())
	}
	return d
}

func formatAmount(d decimal.Decimal) string {
	if d.Exponent() < 0 {
		return d.StringFixed(-d.Exponent())
	}
	return d.String()
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON keeps trailing zeros, so 100.00 is stored as "100.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{formatAmount(m.Amount), m.Currency})
}

// UnmarshalJSON accepts the amount as a JSON string or number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = normalizeScale(raw.Amount)
	m.Currency = strings.ToUpper(strings.TrimSpace(raw.Currency))
	return nil
}

// MustMoney is NewMoney for literals.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Equal compares numerically, so 100.0 EUR equals 100.00 EUR.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

// Transaction is one money movement owned by the aggregate. Amount never
// changes after creation; Status moves from INITIATED to a terminal state
// exactly once.
type Transaction struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Amount        Money             `json:"amount"`
	Timestamp     time.Time         `json:"timestamp"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
}

// TrustlyAccount is the pay-in account attached to one mandate request.
type TrustlyAccount struct {
	AccountID         string            `json:"account_id"`
	DirectDebitStatus DirectDebitStatus `json:"direct_debit_status,omitempty"`
}

type AdyenAccount struct {
	RecurringDetailReference string             `json:"recurring_detail_reference"`
	Status                   AdyenAccountStatus `json:"status"`
}

type AdyenPayoutAccount struct {
	ShopperReference string             `json:"shopper_reference"`
	Status           AdyenAccountStatus `json:"status"`
}

// Member is the aggregate root: everything the payment core knows about one
// member. It only changes through Apply.
type Member struct {
	ID                  string                       `json:"id"`
	Transactions        []Transaction                `json:"transactions"`
	LatestHedvigOrderID uuid.UUID                    `json:"latest_hedvig_order_id"`
	TrustlyAccounts     map[uuid.UUID]TrustlyAccount `json:"trustly_accounts"`
	AdyenAccount        *AdyenAccount                `json:"adyen_account,omitempty"`
	AdyenPayoutAccount  *AdyenPayoutAccount          `json:"adyen_payout_account,omitempty"`
}

// NewMember returns the empty state every stream is folded from.
func NewMember() *Member {
	return &Member{TrustlyAccounts: make(map[uuid.UUID]TrustlyAccount)}
}

// Exists reports whether MemberCreated has been applied.
func (m *Member) Exists() bool {
	return m.ID != ""
}

// LatestTrustlyAccount returns the account of the current mandate, if any.
func (m *Member) LatestTrustlyAccount() (TrustlyAccount, bool) {
	if m.LatestHedvigOrderID == uuid.Nil {
		return TrustlyAccount{}, false
	}
	acc, ok := m.TrustlyAccounts[m.LatestHedvigOrderID]
	return acc, ok
}

// findTransactions returns the indexes of all transactions with id.
func (m *Member) findTransactions(id uuid.UUID) []int {
	var idx []int
	for i := range m.Transactions {
		if m.Transactions[i].TransactionID == id {
			idx = append(idx, i)
		}
	}
	return idx
}

// singleTransaction locates exactly one transaction by id.
func (m *Member) singleTransaction(id uuid.UUID) (int, error) {
	idx := m.findTransactions(id)
	if len(idx) != 1 {
		return -1, &TransactionLookupError{MemberID: m.ID, TransactionID: id, Matches: len(idx)}
	}
	return idx[0], nil
}

// Clone returns a deep copy.
func (m *Member) Clone() *Member {
	c := &Member{
		ID:                  m.ID,
		Transactions:        append([]Transaction(nil), m.Transactions...),
		LatestHedvigOrderID: m.LatestHedvigOrderID,
		TrustlyAccounts:     make(map[uuid.UUID]TrustlyAccount, len(m.TrustlyAccounts)),
	}
	for k, v := range m.TrustlyAccounts {
		c.TrustlyAccounts[k] = v
	}
	if m.AdyenAccount != nil {
		acc := *m.AdyenAccount
		c.AdyenAccount = &acc
	}
	if m.AdyenPayoutAccount != nil {
		acc := *m.AdyenPayoutAccount
		c.AdyenPayoutAccount = &acc
	}
	return c
}

type ChargeResultType string

const (
	ChargeSuccess            ChargeResultType = "SUCCESS"
	ChargeCurrencyMismatch   ChargeResultType = "CURRENCY_MISMATCH"
	ChargeNoPayinMethodFound ChargeResultType = "NO_PAYIN_METHOD_FOUND"
	ChargeNoDirectDebit      ChargeResultType = "NO_DIRECT_DEBIT"
	ChargeAdyenNotAuthorised ChargeResultType = "ADYEN_NOT_AUTHORISED"
)

// ChargeMemberResult is what CreateCharge answers with.
type ChargeMemberResult struct {
	TransactionID uuid.UUID        `json:"transactionId"`
	Type          ChargeResultType `json:"result"`
}
