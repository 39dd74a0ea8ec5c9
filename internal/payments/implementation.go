// internal/payments/implementation.go
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"paymentservice/pkg/eventstore"
)

const (
	defaultSnapshotEvery = 50
	defaultMaxRetries    = 5
)

// service implements the Service interface.
type service struct {
	store         eventstore.Store
	pricing       CurrencyLookup
	logger        *slog.Logger
	tracer        trace.Tracer
	outcomes      metric.Int64Counter
	snapshotEvery int
	maxRetries    uint
	newBackOff    func() backoff.BackOff
}

type Option func(*service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithSnapshotEvery saves a snapshot each time a member's version crosses a
// multiple of n. Zero disables snapshots.
func WithSnapshotEvery(n int) Option {
	return func(s *service) { s.snapshotEvery = n }
}

// WithMaxRetries bounds how often a command is re-run after losing an
// optimistic concurrency race.
func WithMaxRetries(n uint) Option {
	return func(s *service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *service) { s.newBackOff = fn }
}

// NewService creates a new payments service instance.
func NewService(store eventstore.Store, pricing CurrencyLookup, opts ...Option) (Service, error) {
	s := &service{
		store:         store,
		pricing:       pricing,
		logger:        slog.Default(),
		tracer:        otel.Tracer("paymentservice/payments"),
		snapshotEvery: defaultSnapshotEvery,
		maxRetries:    defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	outcomes, err := otel.Meter("paymentservice/payments").Int64Counter(
		"payments.commands",
		metric.WithDescription("Commands handled by the member aggregate, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create command counter: %w", err)
	}
	s.outcomes = outcomes

	return s, nil
}

func (s *service) CreateMember(ctx context.Context, memberID string) error {
	_, err := s.execute(ctx, CreateMemberCommand{MemberID: memberID})
	return err
}

func (s *service) CreateCharge(ctx context.Context, cmd CreateChargeCommand) (ChargeMemberResult, error) {
	d, err := s.execute(ctx, cmd)
	if err != nil {
		return ChargeMemberResult{}, err
	}
	if d.Charge == nil {
		return ChargeMemberResult{}, fmt.Errorf("%w: charge %s produced no result", ErrConsistencyViolation, cmd.TransactionID)
	}
	return *d.Charge, nil
}

func (s *service) CreatePayout(ctx context.Context, cmd CreatePayoutCommand) (bool, error) {
	d, err := s.execute(ctx, cmd)
	if err != nil {
		return false, err
	}
	return d.PayoutAccepted, nil
}

func (s *service) UpdateTrustlyAccount(ctx context.Context, cmd UpdateTrustlyAccountCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) UpdateAdyenAccount(ctx context.Context, cmd UpdateAdyenAccountCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) UpdateAdyenPayoutAccount(ctx context.Context, cmd UpdateAdyenPayoutAccountCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) ChargeCompleted(ctx context.Context, cmd ChargeCompletedCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) ChargeFailed(ctx context.Context, cmd ChargeFailedCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) PayoutCompleted(ctx context.Context, cmd PayoutCompletedCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *service) PayoutFailed(ctx context.Context, cmd PayoutFailedCommand) error {
	_, err := s.execute(ctx, cmd)
	return err
}

// GetMember retrieves a member's current state.
func (s *service) GetMember(ctx context.Context, memberID string) (*Member, error) {
	m, _, err := s.load(ctx, memberID, true)
	if err != nil {
		return nil, err
	}
	if !m.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return m, nil
}

func (s *service) ReplayMember(ctx context.Context, memberID string) (*Member, error) {
	m, _, err := s.load(ctx, memberID, false)
	if err != nil {
		return nil, err
	}
	if !m.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return m, nil
}

func (s *service) Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	return s.store.StreamEvents(ctx, afterID, limit)
}

func commandName(cmd Command) string {
	name := fmt.Sprintf("%T", cmd)
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.TrimSuffix(name, "Command")
}

// execute runs one command: look up external facts, then load, decide,
// fold and append, retrying the whole cycle on a version conflict.
func (s *service) execute(ctx context.Context, cmd Command) (Decision, error) {
	name := commandName(cmd)
	memberID := cmd.AggregateID()
	ctx, span := s.tracer.Start(ctx, "payments."+name,
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.String("command", name),
		),
	)
	defer span.End()

	var env Env
	if charge, ok := cmd.(CreateChargeCommand); ok && charge.Validate() == nil {
		currency, err := s.pricing.PreferredCurrency(ctx, memberID)
		if err != nil {
			err = fmt.Errorf("look up preferred currency: %w", err)
			s.record(ctx, span, name, memberID, err)
			return Decision{}, err
		}
		env.PreferredCurrency = currency
	}

	attempt := 0
	decision, err := backoff.Retry(ctx, func() (Decision, error) {
		attempt++
		return s.attempt(ctx, cmd, env)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxRetries),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))

	s.record(ctx, span, name, memberID, err)
	return decision, err
}

func (s *service) attempt(ctx context.Context, cmd Command, env Env) (Decision, error) {
	memberID := cmd.AggregateID()
	m, version, err := s.load(ctx, memberID, true)
	if err != nil {
		return Decision{}, backoff.Permanent(err)
	}

	decision, decideErr := m.Decide(cmd, env)
	if len(decision.Events) == 0 {
		if decideErr != nil {
			return Decision{}, backoff.Permanent(decideErr)
		}
		return decision, nil
	}

	next := m.Clone()
	if err := next.ApplyAll(decision.Events); err != nil {
		return Decision{}, backoff.Permanent(err)
	}

	envelopes := make([]eventstore.Event, 0, len(decision.Events))
	for _, e := range decision.Events {
		data, err := MarshalEvent(e)
		if err != nil {
			return Decision{}, backoff.Permanent(err)
		}
		envelopes = append(envelopes, eventstore.Event{
			AggregateID:   memberID,
			AggregateType: AggregateType,
			EventType:     e.EventType(),
			EventData:     data,
			Metadata:      map[string]string{"command": commandName(cmd)},
		})
	}

	if err := s.store.AppendEvents(ctx, memberID, AggregateType, version, envelopes); err != nil {
		if IsRetryable(err) {
			s.logger.DebugContext(ctx, "version conflict, retrying", "member_id", memberID, "expected_version", version)
			return Decision{}, err
		}
		return Decision{}, backoff.Permanent(fmt.Errorf("append events: %w", err))
	}

	s.maybeSnapshot(ctx, next, version, version+len(envelopes))

	if decideErr != nil {
		return decision, backoff.Permanent(decideErr)
	}
	return decision, nil
}

// load folds the latest snapshot (when allowed) and every event after it.
func (s *service) load(ctx context.Context, memberID string, useSnapshot bool) (*Member, int, error) {
	m := NewMember()
	version := 0

	if useSnapshot && s.snapshotEvery > 0 {
		snap, err := s.store.LoadSnapshot(ctx, memberID)
		if err != nil {
			return nil, 0, fmt.Errorf("load snapshot: %w", err)
		}
		if snap != nil {
			if err := json.Unmarshal(snap.State, m); err != nil {
				return nil, 0, fmt.Errorf("decode snapshot of %s at version %d: %w", memberID, snap.Version, err)
			}
			if m.TrustlyAccounts == nil {
				m.TrustlyAccounts = make(map[uuid.UUID]TrustlyAccount)
			}
			version = snap.Version
		}
	}

	stored, err := s.store.LoadEvents(ctx, memberID, version+1, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("load events: %w", err)
	}
	for _, se := range stored {
		e, err := UnmarshalEvent(se.EventType, se.EventData)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: member %s version %d: %v", ErrMalformedEventStream, memberID, se.Version, err)
		}
		if err := m.Apply(e); err != nil {
			return nil, 0, fmt.Errorf("member %s version %d: %w", memberID, se.Version, err)
		}
		version = se.Version
	}
	return m, version, nil
}

func (s *service) maybeSnapshot(ctx context.Context, m *Member, from, to int) {
	if s.snapshotEvery <= 0 || to/s.snapshotEvery == from/s.snapshotEvery {
		return
	}
	state, err := json.Marshal(m)
	if err == nil {
		err = s.store.SaveSnapshot(ctx, eventstore.Snapshot{
			AggregateID:   m.ID,
			AggregateType: AggregateType,
			Version:       to,
			State:         state,
		})
	}
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot failed", "member_id", m.ID, "version", to, "error", err)
	}
}

func (s *service) record(ctx context.Context, span trace.Span, name, memberID string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsValidation(err), errors.Is(err, ErrDuplicateTransaction):
		outcome = "rejected"
	case IsNotFound(err):
		outcome = "not_found"
	case IsRetryable(err):
		outcome = "conflict"
	case IsConsistencyViolation(err):
		outcome = "consistency_violation"
	default:
		outcome = "error"
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", outcome),
	))

	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)

	var mismatch *AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		s.logger.ErrorContext(ctx, "transaction amounts differ",
			"member_id", mismatch.MemberID,
			"transaction_id", mismatch.TransactionID,
			"recorded_amount", mismatch.Expected.String(),
			"reported_amount", mismatch.Actual.String(),
		)
	case IsConsistencyViolation(err):
		s.logger.ErrorContext(ctx, "command failed consistency check", "command", name, "member_id", memberID, "error", err)
	case outcome == "error" || outcome == "conflict":
		s.logger.ErrorContext(ctx, "command failed", "command", name, "member_id", memberID, "error", err)
	default:
		s.logger.InfoContext(ctx, "command rejected", "command", name, "member_id", memberID, "error", err)
	}
}
