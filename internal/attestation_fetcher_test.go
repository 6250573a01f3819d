package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchRetriesUntilSigned(t *testing.T) {
	key := ethMessageKey(5)
	vaa := buildVAA(key, nil)

	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(nil, ErrAttestationNotReady).Twice()
	service.On("GetSignedVAA", mock.Anything, key).Return(vaa, nil).Once()

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	got, err := fetcher.Fetch(context.Background(), key, testConfig().attestationPolicy())

	require.NoError(t, err)
	assert.Equal(t, vaa, got)
	service.AssertNumberOfCalls(t, "GetSignedVAA", 3)
}

func TestFetchExhaustionIsAttestationTimeout(t *testing.T) {
	key := ethMessageKey(5)
	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(nil, ErrAttestationNotReady)

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	_, err := fetcher.Fetch(context.Background(), key, testConfig().attestationPolicy())

	assert.ErrorIs(t, err, ErrAttestationTimeout)
	assert.Contains(t, err.Error(), key.String())
	service.AssertNumberOfCalls(t, "GetSignedVAA", 3)
}

func TestFetchRejectedStopsImmediately(t *testing.T) {
	key := ethMessageKey(5)
	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(nil, ErrAttestationRejected)

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	_, err := fetcher.Fetch(context.Background(), key, testConfig().attestationPolicy())

	assert.ErrorIs(t, err, ErrAttestationRejected)
	service.AssertNumberOfCalls(t, "GetSignedVAA", 1)
}

func TestFetchRejectsVAAForAnotherMessage(t *testing.T) {
	key := ethMessageKey(5)
	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(buildVAA(ethMessageKey(6), nil), nil)

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	_, err := fetcher.Fetch(context.Background(), key, testConfig().attestationPolicy())

	assert.ErrorIs(t, err, ErrAttestationRejected)
	service.AssertNumberOfCalls(t, "GetSignedVAA", 1)
}

func TestFetchTransientErrorsAreRetried(t *testing.T) {
	key := ethMessageKey(5)
	vaa := buildVAA(key, nil)
	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(nil, errors.New("connection reset")).Once()
	service.On("GetSignedVAA", mock.Anything, key).Return(vaa, nil).Once()

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	got, err := fetcher.Fetch(context.Background(), key, testConfig().attestationPolicy())

	require.NoError(t, err)
	assert.Equal(t, vaa, got)
}

func TestFetchCancelledWhileWaiting(t *testing.T) {
	key := ethMessageKey(5)
	service := &mockAttestations{}
	service.On("GetSignedVAA", mock.Anything, key).Return(nil, ErrAttestationNotReady)

	policy := testConfig().attestationPolicy()
	policy.MaxAttempts = 0
	policy.InitialBackoff = 10 * time.Millisecond
	policy.MaxBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetcher := NewAttestationFetcher(zap.NewNop(), service)
	_, err := fetcher.Fetch(ctx, key, policy)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrAttestationTimeout)
}
