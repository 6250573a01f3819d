package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AttestationFetcher retrieves signed VAAs with bounded retry. It never
// touches the source ledger, so repeated fetches for one key are harmless.
type AttestationFetcher struct {
	service AttestationService
	logger  *zap.Logger
}

func NewAttestationFetcher(logger *zap.Logger, service AttestationService) *AttestationFetcher {
	return &AttestationFetcher{
		service: service,
		logger:  logger.With(zap.String("component", "AttestationFetcher")),
	}
}

// Fetch asks the attestation service for key up to maxAttempts times, each
// attempt bounded by policy.AttemptTimeout. Exhaustion returns
// ErrAttestationTimeout; a rejected or mismatching VAA returns
// ErrAttestationRejected; cancellation returns ErrCancelled.
func (f *AttestationFetcher) Fetch(ctx context.Context, key MessageKey, policy RetryPolicy) (Attestation, error) {
	logger := f.logger.With(zap.Stringer("messageKey", key))
	logger.Info("Fetching attestation",
		zap.Int("maxAttempts", policy.MaxAttempts),
		zap.Duration("attemptTimeout", policy.AttemptTimeout))

	start := time.Now()
	notify := func(attempt int, err error, wait time.Duration) {
		fields := []zap.Field{
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", policy.MaxAttempts),
			zap.Duration("retryIn", wait),
		}
		if errors.Is(err, ErrAttestationNotReady) {
			logger.Info("Attestation not yet available", fields...)
			return
		}
		logger.Warn("Attestation request failed", append(fields, zap.Error(err))...)
	}

	attestation, err := Retry(ctx, policy, notify, func(ctx context.Context) (Attestation, error) {
		att, err := f.service.GetSignedVAA(ctx, key)
		if err != nil {
			if errors.Is(err, ErrAttestationRejected) {
				return nil, Permanent(err)
			}
			return nil, err
		}
		if err := VerifyAttestationKey(att, key); err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrAttestationRejected, err))
		}
		return att, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAttestationRejected):
			return nil, err
		case ctx.Err() != nil:
			return nil, &kindError{kind: ErrCancelled, err: fmt.Errorf("fetch attestation %s: %w", key, err)}
		default:
			return nil, &kindError{kind: ErrAttestationTimeout, err: fmt.Errorf("fetch attestation %s: %w", key, err)}
		}
	}

	if v, parseErr := ParseVAAPermissive(attestation); parseErr == nil {
		LogVAAFull(logger, v, attestation)
	}
	logger.Info("Attestation received",
		zap.Int("vaaLength", len(attestation)),
		zap.Duration("elapsed", time.Since(start)))
	return attestation, nil
}
