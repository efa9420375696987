// Package validator decides whether stored messages are still valid and
// revokes the ones that are not.
package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
	"github.com/ahrav/hub-revalidator/pkg/common/timeutil"
)

// Revocation reasons attached to published events.
const (
	ReasonSignerNotActive  = "signer_not_active"
	ReasonUsernameNotOwned = "username_not_owned"
)

const defaultSignerCacheTTL = 5 * time.Minute

var _ domain.Validator = (*SignerValidator)(nil)

// SignerValidator keeps a message when its signer is currently active for
// the FID and, for username proofs, when the FID still owns the name.
//
// Scans are sequential per FID, so only the active signer set of the most
// recently seen FID is cached.
type SignerValidator struct {
	signers   domain.SignerEventSource
	names     domain.NameRegistry
	store     domain.RecordStore
	publisher domain.RevocationPublisher
	clock     timeutil.Provider
	cacheTTL  time.Duration

	mu        sync.Mutex
	cachedFID uint64
	cachedSet map[string]struct{}
	cachedAt  time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a SignerValidator.
type Option func(*SignerValidator)

// WithNameRegistry enables username ownership checks.
func WithNameRegistry(names domain.NameRegistry) Option {
	return func(v *SignerValidator) { v.names = names }
}

// WithPublisher announces every revocation on publisher.
func WithPublisher(publisher domain.RevocationPublisher) Option {
	return func(v *SignerValidator) { v.publisher = publisher }
}

// WithClock overrides the time source.
func WithClock(clock timeutil.Provider) Option {
	return func(v *SignerValidator) { v.clock = clock }
}

// WithSignerCacheTTL bounds how long an active signer set is reused.
func WithSignerCacheTTL(ttl time.Duration) Option {
	return func(v *SignerValidator) { v.cacheTTL = ttl }
}

// NewSignerValidator creates a SignerValidator that deletes revoked records
// from store.
func NewSignerValidator(
	signers domain.SignerEventSource,
	store domain.RecordStore,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *SignerValidator {
	v := &SignerValidator{
		signers:  signers,
		store:    store,
		clock:    timeutil.Default(),
		cacheTTL: defaultSignerCacheTTL,
		logger:   logger.With("component", "signer_validator"),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateOrRevoke implements domain.Validator.
func (v *SignerValidator) ValidateOrRevoke(ctx context.Context, msg *domain.Message) (domain.Outcome, error) {
	ctx, span := v.tracer.Start(ctx, "signer_validator.validate_or_revoke",
		trace.WithAttributes(
			attribute.Int64("fid", int64(msg.FID)),
			attribute.String("hash", msg.HashHex()),
			attribute.Int("message_type", int(msg.Type)),
		))
	defer span.End()

	reason, err := v.revocationReason(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return domain.OutcomeError, err
	}
	if reason == "" {
		return domain.OutcomeUnchanged, nil
	}
	span.SetAttributes(attribute.String("revocation_reason", reason))

	if err := v.store.Delete(ctx, msg.Key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete record")
		return domain.OutcomeError, fmt.Errorf("failed to delete revoked record %s: %w", msg.HashHex(), err)
	}
	span.AddEvent("record_revoked")

	v.publish(ctx, msg, reason)
	return domain.OutcomeRevoked, nil
}

func (v *SignerValidator) revocationReason(ctx context.Context, msg *domain.Message) (string, error) {
	active, err := v.activeSigners(ctx, msg.FID)
	if err != nil {
		return "", err
	}
	if _, ok := active[string(msg.Signer)]; !ok {
		return ReasonSignerNotActive, nil
	}

	if msg.Type != domain.MessageTypeUsernameProof || msg.UsernameProof == nil || v.names == nil {
		return "", nil
	}
	owner, err := v.names.Owner(ctx, msg.UsernameProof.Name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner of %q: %w", msg.UsernameProof.Name, err)
	}
	if owner != msg.FID {
		return ReasonUsernameNotOwned, nil
	}
	return "", nil
}

func (v *SignerValidator) activeSigners(ctx context.Context, fid uint64) (map[string]struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cachedSet != nil && v.cachedFID == fid && v.clock.Since(v.cachedAt) < v.cacheTTL {
		return v.cachedSet, nil
	}

	events, err := domain.CollectSignerEvents(ctx, v.signers, fid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signer events for fid %d: %w", fid, err)
	}
	v.cachedFID = fid
	v.cachedSet = domain.ActiveSigners(events)
	v.cachedAt = v.clock.Now()
	return v.cachedSet, nil
}

func (v *SignerValidator) publish(ctx context.Context, msg *domain.Message, reason string) {
	if v.publisher == nil {
		return
	}
	evt := domain.RevocationEvent{
		FID:       msg.FID,
		Hash:      msg.Hash,
		Type:      msg.Type,
		Signer:    msg.Signer,
		Reason:    reason,
		RunID:     domain.RunIDFromContext(ctx),
		RevokedAt: v.clock.Now().UnixMilli(),
	}
	if err := v.publisher.PublishRevocation(ctx, evt); err != nil {
		v.logger.Warn(ctx, "failed to publish revocation event",
			"fid", msg.FID,
			"hash", msg.HashHex(),
			"error", err,
		)
	}
}
