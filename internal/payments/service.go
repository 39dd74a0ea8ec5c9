// internal/payments/service.go
package payments

import (
	"context"

	"paymentservice/pkg/eventstore"
)

// Service is the command gateway in front of the Member aggregate.
type Service interface {
	CreateMember(ctx context.Context, memberID string) error
	CreateCharge(ctx context.Context, cmd CreateChargeCommand) (ChargeMemberResult, error)
	CreatePayout(ctx context.Context, cmd CreatePayoutCommand) (bool, error)
	UpdateTrustlyAccount(ctx context.Context, cmd UpdateTrustlyAccountCommand) error
	UpdateAdyenAccount(ctx context.Context, cmd UpdateAdyenAccountCommand) error
	UpdateAdyenPayoutAccount(ctx context.Context, cmd UpdateAdyenPayoutAccountCommand) error
	ChargeCompleted(ctx context.Context, cmd ChargeCompletedCommand) error
	ChargeFailed(ctx context.Context, cmd ChargeFailedCommand) error
	PayoutCompleted(ctx context.Context, cmd PayoutCompletedCommand) error
	PayoutFailed(ctx context.Context, cmd PayoutFailedCommand) error

	GetMember(ctx context.Context, memberID string) (*Member, error)
	// ReplayMember rebuilds a member from its full event history, ignoring
	// snapshots.
	ReplayMember(ctx context.Context, memberID string) (*Member, error)
	Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error)
}

// CurrencyLookup answers which currency a member is charged in.
type CurrencyLookup interface {
	PreferredCurrency(ctx context.Context, memberID string) (string, error)
}
