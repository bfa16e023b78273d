package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"keygate/api/internal/billing"
	"keygate/api/internal/ids"
	"keygate/api/internal/license"
	"keygate/api/internal/models"
	"keygate/api/internal/repository"
)

const (
	NotificationSubscriptionCreated = "subscription.created"
	NotificationSubscriptionUpdated = "subscription.updated"
	NotificationSubscriptionDeleted = "subscription.deleted"
	NotificationInvoicePaid         = "invoice.paid"
	NotificationInvoiceFailed       = "invoice.payment_failed"

	reconcileLockKey = "keygate:reconcile:sweep"
	reconcileLockTTL = 10 * time.Minute
)

// BillingService keeps local subscription rows in sync with the remote
// processor: synchronously via webhooks (idempotent) and asynchronously
// via the reconciliation sweep. The sync is one-directional — local
// defers to remote — with one guard: an active row never moves away from
// active without the remote explicitly confirming non-active.
type BillingService struct {
	pool          *pgxpool.Pool
	subs          *repository.SubscriptionRepository
	notifications *repository.NotificationRepository
	risks         *repository.RiskRepository
	processor     billing.ProcessorClient
	locks         *redis.Client
	log           zerolog.Logger
}

func NewBillingService(
	pool *pgxpool.Pool,
	subs *repository.SubscriptionRepository,
	notifications *repository.NotificationRepository,
	risks *repository.RiskRepository,
	processor billing.ProcessorClient,
	locks *redis.Client,
	log zerolog.Logger,
) *BillingService {
	return &BillingService{
		pool:          pool,
		subs:          subs,
		notifications: notifications,
		risks:         risks,
		processor:     processor,
		locks:         locks,
		log:           log,
	}
}

// NotificationPayload is the parsed webhook body. Fields are populated
// per kind; absent ones are zero.
type NotificationPayload struct {
	UserID            string     `json:"user_id"`
	CustomerRef       string     `json:"customer"`
	SubscriptionRef   string     `json:"subscription"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

type NotificationResult struct {
	ExternalEventID string
	Kind            string
	ProcessedAt     time.Time
	Duplicate       bool
}

// ApplyNotification applies one billing event exactly once. The
// idempotency claim and the transition share a transaction, so a crash
// between them replays cleanly and a duplicate delivery returns the
// prior record without re-running side effects.
func (s *BillingService) ApplyNotification(ctx context.Context, eventID string, kind string, payload NotificationPayload) (NotificationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return NotificationResult{}, fmt.Errorf("begin webhook tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := s.notifications.WithTx(tx).Insert(ctx, eventID, kind)
	if err != nil {
		return NotificationResult{}, fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		prior, err := s.notifications.Get(ctx, eventID)
		if err != nil {
			return NotificationResult{}, fmt.Errorf("load prior event: %w", err)
		}
		return NotificationResult{
			ExternalEventID: prior.ExternalEventID,
			Kind:            prior.Kind,
			ProcessedAt:     prior.ProcessedAt,
			Duplicate:       true,
		}, nil
	}

	if err := s.applyTransition(ctx, tx, kind, payload); err != nil {
		return NotificationResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return NotificationResult{}, fmt.Errorf("commit webhook: %w", err)
	}

	return NotificationResult{ExternalEventID: eventID, Kind: kind, ProcessedAt: time.Now().UTC()}, nil
}

func (s *BillingService) applyTransition(ctx context.Context, tx pgx.Tx, kind string, payload NotificationPayload) error {
	subs := s.subs.WithTx(tx)
	risks := s.risks.WithTx(tx)

	switch kind {
	case NotificationSubscriptionCreated:
		sub := models.Subscription{
			ID:                ids.New(),
			UserID:            payload.UserID,
			Status:            models.SubscriptionStatusActive,
			CurrentPeriodEnd:  payload.CurrentPeriodEnd,
			CancelAtPeriodEnd: payload.CancelAtPeriodEnd,
		}
		if payload.CustomerRef != "" {
			sub.ExternalCustomerRef = &payload.CustomerRef
		}
		if payload.SubscriptionRef != "" {
			sub.ExternalSubscriptionRef = &payload.SubscriptionRef
		}
		if err := subs.Create(ctx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		return s.audit(ctx, risks, sub, "", models.SubscriptionStatusActive)

	case NotificationSubscriptionUpdated:
		sub, err := subs.GetByExternalRef(ctx, payload.SubscriptionRef)
		if err != nil {
			return s.notFound(err)
		}
		mapped, ok := billing.MapRemoteStatus(payload.Status)
		if !ok {
			// Unknown remote status: keep state rather than guess.
			s.log.Warn().
				Str("subscription_id", sub.ID).
				Str("remote_status", payload.Status).
				Msg("ambiguous remote status in webhook, keeping local state")
			return nil
		}
		if mapped == sub.Status {
			return nil
		}
		if err := subs.UpdateStatus(ctx, sub.ID, mapped, nil); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return s.audit(ctx, risks, sub, sub.Status, mapped)

	case NotificationSubscriptionDeleted:
		sub, err := subs.GetByExternalRef(ctx, payload.SubscriptionRef)
		if err != nil {
			return s.notFound(err)
		}
		now := time.Now().UTC()
		if err := subs.UpdateStatus(ctx, sub.ID, models.SubscriptionStatusExpired, &now); err != nil {
			return fmt.Errorf("expire subscription: %w", err)
		}
		return s.audit(ctx, risks, sub, sub.Status, models.SubscriptionStatusExpired)

	case NotificationInvoicePaid:
		sub, err := subs.GetByExternalRef(ctx, payload.SubscriptionRef)
		if err != nil {
			return s.notFound(err)
		}
		if payload.CurrentPeriodEnd == nil {
			return fmt.Errorf("invoice paid without period end")
		}
		if err := subs.ExtendPeriod(ctx, sub.ID, *payload.CurrentPeriodEnd); err != nil {
			return fmt.Errorf("extend period: %w", err)
		}
		if sub.Status == models.SubscriptionStatusActive {
			return nil
		}
		return s.audit(ctx, risks, sub, sub.Status, models.SubscriptionStatusActive)

	case NotificationInvoiceFailed:
		sub, err := subs.GetByExternalRef(ctx, payload.SubscriptionRef)
		if err != nil {
			return s.notFound(err)
		}
		// Failure is recorded, never acted on here; the processor decides
		// when the subscription actually lapses.
		return risks.Append(ctx, models.RiskEvent{
			ID:       ids.New(),
			UserID:   &sub.UserID,
			Kind:     models.RiskKindPaymentFailed,
			Metadata: map[string]any{"subscription_id": sub.ID},
		})

	default:
		return fmt.Errorf("unknown notification kind %q", kind)
	}
}

// Reconcile compares one subscription against the processor's answer.
// Safety rule: local active is only downgraded when the remote reply is
// explicit proof of non-active; errors and unknown statuses leave state
// untouched.
func (s *BillingService) Reconcile(ctx context.Context, sub models.Subscription) error {
	if sub.ExternalSubscriptionRef == nil {
		return nil
	}

	remote, err := s.processor.GetSubscription(ctx, *sub.ExternalSubscriptionRef)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionGone) {
			// Gone at the processor is explicit non-active.
			return s.transition(ctx, sub, models.SubscriptionStatusExpired)
		}
		if errors.Is(err, billing.ErrProcessorUnavailable) {
			s.log.Warn().
				Str("subscription_id", sub.ID).
				Err(err).
				Msg("processor unavailable, keeping local state")
			return license.ErrProcessorUnavailable
		}
		return fmt.Errorf("query processor: %w", err)
	}

	mapped, ok := billing.MapRemoteStatus(remote.Status)
	if !ok {
		s.log.Warn().
			Str("subscription_id", sub.ID).
			Str("remote_status", remote.Status).
			Msg("ambiguous remote status, keeping local state")
		return nil
	}

	if mapped == sub.Status {
		// In sync. No audit entry: the ledger records changes, not reads.
		return nil
	}

	if sub.Status == models.SubscriptionStatusActive && !billing.ConfirmsNonActive(remote.Status) {
		return nil
	}

	return s.transition(ctx, sub, mapped)
}

// ReconcileAll sweeps every subscription needing sync. One instance
// sweeps at a time (Redis mutex); one subscription failing does not
// abort the rest.
func (s *BillingService) ReconcileAll(ctx context.Context) error {
	if s.locks != nil {
		held, err := s.locks.SetNX(ctx, reconcileLockKey, "1", reconcileLockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !held {
			s.log.Debug().Msg("reconcile sweep already running elsewhere")
			return nil
		}
		defer s.locks.Del(context.WithoutCancel(ctx), reconcileLockKey)
	}

	subs, err := s.subs.ListNeedingSync(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var failures int
	for _, sub := range subs {
		if err := s.Reconcile(ctx, sub); err != nil {
			failures++
			s.log.Error().
				Err(err).
				Str("subscription_id", sub.ID).
				Msg("reconcile failed")
		}
	}

	s.log.Info().
		Int("total", len(subs)).
		Int("failures", failures).
		Msg("reconcile sweep finished")
	return nil
}

// transition writes the status change and its audit entry atomically.
func (s *BillingService) transition(ctx context.Context, sub models.Subscription, to models.SubscriptionStatus) error {
	if sub.Status == to {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var canceledAt *time.Time
	if to == models.SubscriptionStatusExpired {
		now := time.Now().UTC()
		canceledAt = &now
	}
	if err := s.subs.WithTx(tx).UpdateStatus(ctx, sub.ID, to, canceledAt); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := s.audit(ctx, s.risks.WithTx(tx), sub, sub.Status, to); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *BillingService) audit(ctx context.Context, risks *repository.RiskRepository, sub models.Subscription, from models.SubscriptionStatus, to models.SubscriptionStatus) error {
	return risks.Append(ctx, models.RiskEvent{
		ID:     ids.New(),
		UserID: &sub.UserID,
		Kind:   models.RiskKindSubscriptionChange,
		Metadata: map[string]any{
			"subscription_id": sub.ID,
			"from":            string(from),
			"to":              string(to),
		},
	})
}

func (s *BillingService) notFound(err error) error {
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return license.ErrSubscriptionNotFound
	}
	return fmt.Errorf("load subscription: %w", err)
}
