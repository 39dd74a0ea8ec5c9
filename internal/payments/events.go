// internal/payments/events.go
package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the closed set of facts a Member aggregate records. Events are
// the only way its state changes.
type Event interface {
	EventType() string
	isEvent()
}

type MemberCreatedEvent struct {
	MemberID string `json:"memberId"`
}

type ChargeCreatedEvent struct {
	MemberID      string        `json:"memberId"`
	TransactionID uuid.UUID     `json:"transactionId"`
	Amount        Money         `json:"amount"`
	Timestamp     time.Time     `json:"timestamp"`
	ProviderID    string        `json:"providerId"`
	Provider      PayinProvider `json:"provider"`
	Email         string        `json:"email,omitempty"`
	CreatedBy     string        `json:"createdBy,omitempty"`
}

type ChargeCreationFailedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason"`
}

type ChargeCompletedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

type ChargeFailedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
}

// ChargeErroredEvent is the audit record of a provider reporting an amount
// that differs from the one charged.
type ChargeErroredEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// PayoutCreatedEvent carries the whole payout request. Exactly one of
// TrustlyAccountID and AdyenShopperReference is set.
type PayoutCreatedEvent struct {
	MemberID              string    `json:"memberId"`
	TransactionID         uuid.UUID `json:"transactionId"`
	Amount                Money     `json:"amount"`
	Address               string    `json:"address,omitempty"`
	CountryCode           string    `json:"countryCode,omitempty"`
	DateOfBirth           time.Time `json:"dateOfBirth"`
	FirstName             string    `json:"firstName,omitempty"`
	LastName              string    `json:"lastName,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
	TrustlyAccountID      string    `json:"trustlyAccountId,omitempty"`
	Category              string    `json:"category"`
	ReferenceID           string    `json:"referenceId,omitempty"`
	Note                  string    `json:"note,omitempty"`
	Handler               string    `json:"handler,omitempty"`
	AdyenShopperReference string    `json:"adyenShopperReference,omitempty"`
	Email                 string    `json:"email,omitempty"`
}

type PayoutCreationFailedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

type PayoutCompletedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

type PayoutFailedEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

type PayoutErroredEvent struct {
	MemberID      string    `json:"memberId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        Money     `json:"amount"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

type TrustlyAccountCreatedEvent struct {
	MemberID         string    `json:"memberId"`
	HedvigOrderID    uuid.UUID `json:"hedvigOrderId"`
	TrustlyAccountID string    `json:"trustlyAccountId"`
	TrustlyBankDetails
}

type TrustlyAccountUpdatedEvent struct {
	MemberID         string    `json:"memberId"`
	HedvigOrderID    uuid.UUID `json:"hedvigOrderId"`
	TrustlyAccountID string    `json:"trustlyAccountId"`
	TrustlyBankDetails
}

type DirectDebitConnectedEvent struct {
	MemberID         string    `json:"memberId"`
	HedvigOrderID    uuid.UUID `json:"hedvigOrderId"`
	TrustlyAccountID string    `json:"trustlyAccountId"`
}

type DirectDebitDisconnectedEvent struct {
	MemberID         string    `json:"memberId"`
	HedvigOrderID    uuid.UUID `json:"hedvigOrderId"`
	TrustlyAccountID string    `json:"trustlyAccountId"`
}

type DirectDebitPendingConnectionEvent struct {
	MemberID         string    `json:"memberId"`
	HedvigOrderID    uuid.UUID `json:"hedvigOrderId"`
	TrustlyAccountID string    `json:"trustlyAccountId"`
}

type AdyenAccountCreatedEvent struct {
	MemberID                 string             `json:"memberId"`
	RecurringDetailReference string             `json:"recurringDetailReference"`
	AccountStatus            AdyenAccountStatus `json:"accountStatus"`
}

type AdyenAccountUpdatedEvent struct {
	MemberID                 string             `json:"memberId"`
	RecurringDetailReference string             `json:"recurringDetailReference"`
	AccountStatus            AdyenAccountStatus `json:"accountStatus"`
}

type AdyenPayoutAccountCreatedEvent struct {
	MemberID         string             `json:"memberId"`
	ShopperReference string             `json:"shopperReference"`
	AccountStatus    AdyenAccountStatus `json:"accountStatus"`
}

type AdyenPayoutAccountUpdatedEvent struct {
	MemberID         string             `json:"memberId"`
	ShopperReference string             `json:"shopperReference"`
	AccountStatus    AdyenAccountStatus `json:"accountStatus"`
}

func (MemberCreatedEvent) EventType() string                { return "MemberCreated" }
func (ChargeCreatedEvent) EventType() string                { return "ChargeCreated" }
func (ChargeCreationFailedEvent) EventType() string         { return "ChargeCreationFailed" }
func (ChargeCompletedEvent) EventType() string              { return "ChargeCompleted" }
func (ChargeFailedEvent) EventType() string                 { return "ChargeFailed" }
func (ChargeErroredEvent) EventType() string                { return "ChargeErrored" }
func (PayoutCreatedEvent) EventType() string                { return "PayoutCreated" }
func (PayoutCreationFailedEvent) EventType() string         { return "PayoutCreationFailed" }
func (PayoutCompletedEvent) EventType() string              { return "PayoutCompleted" }
func (PayoutFailedEvent) EventType() string                 { return "PayoutFailed" }
func (PayoutErroredEvent) EventType() string                { return "PayoutErrored" }
func (TrustlyAccountCreatedEvent) EventType() string        { return "TrustlyAccountCreated" }
func (TrustlyAccountUpdatedEvent) EventType() string        { return "TrustlyAccountUpdated" }
func (DirectDebitConnectedEvent) EventType() string         { return "DirectDebitConnected" }
func (DirectDebitDisconnectedEvent) EventType() string      { return "DirectDebitDisconnected" }
func (DirectDebitPendingConnectionEvent) EventType() string { return "DirectDebitPendingConnection" }
func (AdyenAccountCreatedEvent) EventType() string          { return "AdyenAccountCreated" }
func (AdyenAccountUpdatedEvent) EventType() string          { return "AdyenAccountUpdated" }
func (AdyenPayoutAccountCreatedEvent) EventType() string    { return "AdyenPayoutAccountCreated" }
func (AdyenPayoutAccountUpdatedEvent) EventType() string    { return "AdyenPayoutAccountUpdated" }

func (MemberCreatedEvent) isEvent()                {}
func (ChargeCreatedEvent) isEvent()                {}
func (ChargeCreationFailedEvent) isEvent()         {}
func (ChargeCompletedEvent) isEvent()              {}
func (ChargeFailedEvent) isEvent()                 {}
func (ChargeErroredEvent) isEvent()                {}
func (PayoutCreatedEvent) isEvent()                {}
func (PayoutCreationFailedEvent) isEvent()         {}
func (PayoutCompletedEvent) isEvent()              {}
func (PayoutFailedEvent) isEvent()                 {}
func (PayoutErroredEvent) isEvent()                {}
func (TrustlyAccountCreatedEvent) isEvent()        {}
func (TrustlyAccountUpdatedEvent) isEvent()        {}
func (DirectDebitConnectedEvent) isEvent()         {}
func (DirectDebitDisconnectedEvent) isEvent()      {}
func (DirectDebitPendingConnectionEvent) isEvent() {}
func (AdyenAccountCreatedEvent) isEvent()          {}
func (AdyenAccountUpdatedEvent) isEvent()          {}
func (AdyenPayoutAccountCreatedEvent) isEvent()    {}
func (AdyenPayoutAccountUpdatedEvent) isEvent()    {}

var eventFactories = map[string]func() Event{
	"MemberCreated":                func() Event { return &MemberCreatedEvent{} },
	"ChargeCreated":                func() Event { return &ChargeCreatedEvent{} },
	"ChargeCreationFailed":         func() Event { return &ChargeCreationFailedEvent{} },
	"ChargeCompleted":              func() Event { return &ChargeCompletedEvent{} },
	"ChargeFailed":                 func() Event { return &ChargeFailedEvent{} },
	"ChargeErrored":                func() Event { return &ChargeErroredEvent{} },
	"PayoutCreated":                func() Event { return &PayoutCreatedEvent{} },
	"PayoutCreationFailed":         func() Event { return &PayoutCreationFailedEvent{} },
	"PayoutCompleted":              func() Event { return &PayoutCompletedEvent{} },
	"PayoutFailed":                 func() Event { return &PayoutFailedEvent{} },
	"PayoutErrored":                func() Event { return &PayoutErroredEvent{} },
	"TrustlyAccountCreated":        func() Event { return &TrustlyAccountCreatedEvent{} },
	"TrustlyAccountUpdated":        func() Event { return &TrustlyAccountUpdatedEvent{} },
	"DirectDebitConnected":         func() Event { return &DirectDebitConnectedEvent{} },
	"DirectDebitDisconnected":      func() Event { return &DirectDebitDisconnectedEvent{} },
	"DirectDebitPendingConnection": func() Event { return &DirectDebitPendingConnectionEvent{} },
	"AdyenAccountCreated":          func() Event { return &AdyenAccountCreatedEvent{} },
	"AdyenAccountUpdated":          func() Event { return &AdyenAccountUpdatedEvent{} },
	"AdyenPayoutAccountCreated":    func() Event { return &AdyenPayoutAccountCreatedEvent{} },
	"AdyenPayoutAccountUpdated":    func() Event { return &AdyenPayoutAccountUpdatedEvent{} },
}

// MarshalEvent encodes an event's payload.
func MarshalEvent(e Event) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return data, nil
}

// UnmarshalEvent decodes a stored payload back into its value type, so the
// result can be matched with the same type switch Apply uses.
func UnmarshalEvent(eventType string, data []byte) (Event, error) {
	factory, ok := eventFactories[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	ptr := factory()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
	}
	return deref(ptr), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *MemberCreatedEvent:
		return *v
	case *ChargeCreatedEvent:
		return *v
	case *ChargeCreationFailedEvent:
		return *v
	case *ChargeCompletedEvent:
		return *v
	case *ChargeFailedEvent:
		return *v
	case *ChargeErroredEvent:
		return *v
	case *PayoutCreatedEvent:
		return *v
	case *PayoutCreationFailedEvent:
		return *v
	case *PayoutCompletedEvent:
		return *v
	case *PayoutFailedEvent:
		return *v
	case *PayoutErroredEvent:
		return *v
	case *TrustlyAccountCreatedEvent:
		return *v
	case *TrustlyAccountUpdatedEvent:
		return *v
	case *DirectDebitConnectedEvent:
		return *v
	case *DirectDebitDisconnectedEvent:
		return *v
	case *DirectDebitPendingConnectionEvent:
		return *v
	case *AdyenAccountCreatedEvent:
		return *v
	case *AdyenAccountUpdatedEvent:
		return *v
	case *AdyenPayoutAccountCreatedEvent:
		return *v
	case *AdyenPayoutAccountUpdatedEvent:
		return *v
	}
	return e
}
