package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startDispatcher(t *testing.T, d *Dispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func (r *memoryRecorder) byTransfer() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot)
	for _, s := range r.snapshots {
		out[s.TransferID] = s
	}
	return out
}

func TestDispatcherRunsTransfersConcurrently(t *testing.T) {
	p := newTestPipeline(testConfig())
	key := ethMessageKey(4242)
	vaa := buildVAA(key, nil)
	p.source.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(SubmissionHandle{TxID: testSourceTxID}, nil)
	p.source.On("Receipt", mock.Anything, mock.Anything).Return(finalizedReceipt(4242), nil)
	p.attestations.On("GetSignedVAA", mock.Anything, key).Return(vaa, nil)
	p.destination.On("Redeem", mock.Anything, vaa, testSolWallet, mock.Anything).Return(testDestTxID, nil)

	d := NewDispatcher(zap.NewNop(), 4, p.orchestrator)
	startDispatcher(t, d)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		req := ethToSolanaRequest()
		ids = append(ids, req.ID)
		require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req}))
	}

	assert.Eventually(t, func() bool {
		latest := p.recorder.byTransfer()
		for _, id := range ids {
			if latest[id].State != StageCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	p.source.AssertNumberOfCalls(t, "Submit", 5)
}

func TestDispatcherResumesSnapshots(t *testing.T) {
	p := newTestPipeline(testConfig())
	key := ethMessageKey(7)
	vaa := buildVAA(key, nil)
	p.attestations.On("GetSignedVAA", mock.Anything, key).Return(vaa, nil)
	p.destination.On("Redeem", mock.Anything, vaa, testSolWallet, mock.Anything).Return(testDestTxID, nil)

	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)
	startDispatcher(t, d)

	req := ethToSolanaRequest()
	snapshot := Snapshot{
		TransferID:  req.ID,
		Direction:   DirectionEthToSolana,
		State:       StageFailed,
		FailedStage: StageFetchingAttestation,
		Kind:        KindName(ErrAttestationTimeout),
		Request:     req,
		SourceTxID:  testSourceTxID,
		MessageKey:  &key,
	}
	require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Snapshot: &snapshot}))

	assert.Eventually(t, func() bool {
		return p.recorder.byTransfer()[req.ID].State == StageCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"GetSignedVAA", "Redeem"}, p.calls.get())
}

func TestDispatcherEnqueueRejectsBadJobs(t *testing.T) {
	p := newTestPipeline(testConfig())
	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)
	req := ethToSolanaRequest()

	err := d.Enqueue(context.Background(), Job{Direction: DirectionSolanaToEth, Request: &req})
	assert.ErrorIs(t, err, ErrValidation)

	err = d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana})
	assert.Error(t, err)

	err = d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req, Snapshot: &Snapshot{}})
	assert.Error(t, err)
}

func TestDispatcherEnqueueHonoursContextWhenFull(t *testing.T) {
	p := newTestPipeline(testConfig())
	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)
	req := ethToSolanaRequest()

	require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	other := ethToSolanaRequest()
	err := d.Enqueue(ctx, Job{Direction: DirectionEthToSolana, Request: &other})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The timed out job released its claim.
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Enqueue(ctx, Job{Direction: DirectionEthToSolana, Request: &other})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherRejectsDuplicateTransfer(t *testing.T) {
	p := newTestPipeline(testConfig())
	d := NewDispatcher(zap.NewNop(), 4, p.orchestrator)

	req := ethToSolanaRequest()
	snapshot := Snapshot{
		TransferID:  req.ID,
		Direction:   DirectionEthToSolana,
		State:       StageFailed,
		FailedStage: StageSubmitting,
		Kind:        KindName(ErrCancelled),
		Request:     req,
	}
	require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Snapshot: &snapshot}))

	again := snapshot
	err := d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Snapshot: &again})
	assert.ErrorIs(t, err, ErrTransferInFlight)
	err = d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req})
	assert.ErrorIs(t, err, ErrTransferInFlight)
	assert.Len(t, d.jobs, 1)
}

func TestDispatcherReleasesFinishedTransfers(t *testing.T) {
	p := newTestPipeline(testConfig())
	key := ethMessageKey(8)
	vaa := buildVAA(key, nil)
	p.attestations.On("GetSignedVAA", mock.Anything, key).Return(vaa, nil)
	p.destination.On("Redeem", mock.Anything, vaa, testSolWallet, mock.Anything).Return(testDestTxID, nil)

	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)
	startDispatcher(t, d)

	req := ethToSolanaRequest()
	snapshot := Snapshot{
		TransferID:  req.ID,
		Direction:   DirectionEthToSolana,
		State:       StageFailed,
		FailedStage: StageRedeeming,
		Kind:        KindName(ErrRedemption),
		Request:     req,
		SourceTxID:  testSourceTxID,
		MessageKey:  &key,
	}
	require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Snapshot: &snapshot}))
	assert.Eventually(t, func() bool {
		return p.recorder.byTransfer()[req.ID].State == StageCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// Completed snapshots resume to their result, so a second job is accepted.
	assert.Eventually(t, func() bool {
		return d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Snapshot: &snapshot}) == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatcherShutdownRecordsQueuedTransfers(t *testing.T) {
	p := newTestPipeline(testConfig())
	d := NewDispatcher(zap.NewNop(), 50, p.orchestrator)

	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		req := ethToSolanaRequest()
		ids = append(ids, req.ID)
		require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Start(ctx))

	latest := p.recorder.byTransfer()
	for _, id := range ids {
		snap, ok := latest[id]
		require.True(t, ok, id)
		assert.Equal(t, StageFailed, snap.State)
		assert.Equal(t, "CancelledError", snap.Kind)
		assert.NoError(t, CheckResumable(snap))
	}
	p.source.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, d.jobs)
}

func TestDispatcherShutdownCancelsInFlightTransfers(t *testing.T) {
	cfg := testConfig()
	cfg.AttestationMaxAttempts = 0
	p := newTestPipeline(cfg)
	key := ethMessageKey(4242)
	p.source.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(SubmissionHandle{TxID: testSourceTxID}, nil)
	p.source.On("Receipt", mock.Anything, mock.Anything).Return(finalizedReceipt(4242), nil)
	p.attestations.On("GetSignedVAA", mock.Anything, key).Return(nil, ErrAttestationNotReady)

	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)
	cancel, errCh := startDispatcher(t, d)

	req := ethToSolanaRequest()
	require.NoError(t, d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req}))

	assert.Eventually(t, func() bool {
		return p.recorder.byTransfer()[req.ID].State == StageFetchingAttestation
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	final := p.recorder.byTransfer()[req.ID]
	assert.Equal(t, StageFailed, final.State)
	assert.Equal(t, StageFetchingAttestation, final.FailedStage)
	assert.Equal(t, "CancelledError", final.Kind)
	require.NotNil(t, final.MessageKey)
	assert.NoError(t, CheckResumable(final))

	err := d.Enqueue(context.Background(), Job{Direction: DirectionEthToSolana, Request: &req})
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

func TestDispatcherNewRequestValidates(t *testing.T) {
	p := newTestPipeline(testConfig())
	d := NewDispatcher(zap.NewNop(), 1, p.orchestrator)

	req, err := d.NewRequest(DirectionEthToSolana, testToken, "1000", testEVMWallet, testSolWallet, "DAI")
	require.NoError(t, err)
	assert.Equal(t, "1000", req.Amount.String())
	assert.NotEmpty(t, req.ID)

	_, err = d.NewRequest(DirectionEthToSolana, testToken, "1.5", testEVMWallet, testSolWallet, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.NewRequest(DirectionEthToSolana, testToken, "1000", testEVMWallet, testEVMWallet, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.NewRequest(DirectionSolanaToEth, testSolMint, "1000", testSolWallet, testEVMWallet, "")
	assert.ErrorIs(t, err, ErrValidation)
}
