package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/store"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) NewRequest(direction internal.Direction, asset, amount, sender, recipient, label string) (internal.TransferRequest, error) {
	args := m.Called(direction, asset, amount, sender, recipient, label)
	return args.Get(0).(internal.TransferRequest), args.Error(1)
}

func (m *mockRunner) Enqueue(ctx context.Context, job internal.Job) error {
	return m.Called(ctx, job).Error(0)
}

type testServer struct {
	runner *mockRunner
	store  *store.Memory
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{runner: &mockRunner{}, store: store.NewMemory()}
	ts.http = httptest.NewServer(NewServer(zap.NewNop(), ts.runner, ts.store).Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp.StatusCode, raw
}

func (ts *testServer) record(t *testing.T, snapshot internal.Snapshot) {
	t.Helper()
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	require.NoError(t, ts.store.Record(context.Background(), snapshot))
}

func decodeResponse(t *testing.T, raw []byte) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func testRequest() internal.TransferRequest {
	return internal.NewTransferRequest(vaaLib.ChainIDEthereum, vaaLib.ChainIDSolana,
		"0x6b175474e89094c44da98b954eedeac495271d0f", big.NewInt(1000),
		"0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "api")
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	code, raw := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decodeResponse(t, raw).Status)
}

func TestStartTransfer(t *testing.T) {
	ts := newTestServer(t)
	req := testRequest()

	ts.runner.On("NewRequest", internal.DirectionEthToSolana, req.AssetIdentifier, "1000", "", req.RecipientAddress, "api").
		Return(req, nil)
	ts.runner.On("Enqueue", mock.Anything, internal.Job{Direction: internal.DirectionEthToSolana, Request: &req}).
		Return(nil)

	body := `{"asset":"` + req.AssetIdentifier + `","amount":"1000","recipient":"` + req.RecipientAddress + `","label":"api"}`
	code, raw := ts.do(t, http.MethodPost, "/transfers/eth-to-solana", body)

	assert.Equal(t, http.StatusAccepted, code)
	resp := decodeResponse(t, raw)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, req.ID, resp.ID)
	ts.runner.AssertExpectations(t)

	snapshot, err := ts.store.Load(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.StageValidating, snapshot.State)
	assert.Equal(t, internal.DirectionEthToSolana, snapshot.Direction)
}

func TestStartTransferErrors(t *testing.T) {
	t.Run("bad json", func(t *testing.T) {
		ts := newTestServer(t)

		code, raw := ts.do(t, http.MethodPost, "/transfers/solana-to-eth", "{")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "Cannot unmarshal input JSON", decodeResponse(t, raw).Message)
		ts.runner.AssertNotCalled(t, "NewRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid request", func(t *testing.T) {
		ts := newTestServer(t)
		ts.runner.On("NewRequest", internal.DirectionSolanaToEth, "", "-1", "", "", "").
			Return(internal.TransferRequest{}, errors.New("amount must be positive"))

		code, raw := ts.do(t, http.MethodPost, "/transfers/solana-to-eth", `{"amount":"-1"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "amount must be positive", decodeResponse(t, raw).Message)
		ts.runner.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("queue unavailable", func(t *testing.T) {
		ts := newTestServer(t)
		req := testRequest()
		ts.runner.On("NewRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(req, nil)
		ts.runner.On("Enqueue", mock.Anything, mock.Anything).Return(internal.ErrDispatcherStopped)

		code, _ := ts.do(t, http.MethodPost, "/transfers/eth-to-solana", `{"amount":"1000"}`)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}

func TestGetTransfer(t *testing.T) {
	ts := newTestServer(t)
	ts.record(t, internal.Snapshot{
		TransferID: "t-1",
		Direction:  internal.DirectionEthToSolana,
		State:      internal.StageAwaitingConfirmation,
		SourceTxID: "0xabc",
	})

	code, raw := ts.do(t, http.MethodGet, "/transfers/t-1", "")
	require.Equal(t, http.StatusOK, code)
	var snapshot internal.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	assert.Equal(t, internal.StageAwaitingConfirmation, snapshot.State)
	assert.Equal(t, "0xabc", snapshot.SourceTxID)

	code, raw = ts.do(t, http.MethodGet, "/transfers/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "transfer not found", decodeResponse(t, raw).Message)
}

func TestListTransfers(t *testing.T) {
	ts := newTestServer(t)
	ts.record(t, internal.Snapshot{TransferID: "a", State: internal.StageCompleted})
	ts.record(t, internal.Snapshot{TransferID: "b", State: internal.StageFailed})
	ts.record(t, internal.Snapshot{TransferID: "c", State: internal.StageCompleted})

	code, raw := ts.do(t, http.MethodGet, "/transfers/?state=Completed", "")
	require.Equal(t, http.StatusOK, code)
	var snapshots []internal.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snapshots))
	require.Len(t, snapshots, 2)
	for _, s := range snapshots {
		assert.Equal(t, internal.StageCompleted, s.State)
	}

	code, raw = ts.do(t, http.MethodGet, "/transfers/", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(raw, &snapshots))
	assert.Len(t, snapshots, 3)
}

func TestResumeTransfer(t *testing.T) {
	key := &internal.MessageKey{EmitterChain: vaaLib.ChainIDEthereum, Sequence: 4}

	t.Run("unknown", func(t *testing.T) {
		ts := newTestServer(t)

		code, _ := ts.do(t, http.MethodPost, "/transfers/missing/resume", "")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("completed", func(t *testing.T) {
		ts := newTestServer(t)
		ts.record(t, internal.Snapshot{
			TransferID:      "done",
			State:           internal.StageCompleted,
			SourceTxID:      "0xsrc",
			DestinationTxID: "5dst",
		})

		code, raw := ts.do(t, http.MethodPost, "/transfers/done/resume", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(raw), `"destinationTxId":"5dst"`)
		ts.runner.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("in progress", func(t *testing.T) {
		ts := newTestServer(t)
		ts.record(t, internal.Snapshot{TransferID: "busy", State: internal.StageFetchingAttestation, MessageKey: key})

		code, raw := ts.do(t, http.MethodPost, "/transfers/busy/resume", "")
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "transfer is still in progress", decodeResponse(t, raw).Message)
	})

	t.Run("terminal", func(t *testing.T) {
		ts := newTestServer(t)
		ts.record(t, internal.Snapshot{
			TransferID:  "reverted",
			State:       internal.StageFailed,
			FailedStage: internal.StageAwaitingConfirmation,
			Kind:        internal.KindName(internal.ErrReverted),
			SourceTxID:  "0xsrc",
		})

		code, _ := ts.do(t, http.MethodPost, "/transfers/reverted/resume", "")
		assert.Equal(t, http.StatusConflict, code)
		ts.runner.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("accepted", func(t *testing.T) {
		ts := newTestServer(t)
		snapshot := internal.Snapshot{
			TransferID:  "slow",
			Direction:   internal.DirectionEthToSolana,
			State:       internal.StageFailed,
			FailedStage: internal.StageFetchingAttestation,
			Kind:        internal.KindName(internal.ErrAttestationTimeout),
			SourceTxID:  "0xsrc",
			MessageKey:  key,
		}
		ts.record(t, snapshot)
		ts.runner.On("Enqueue", mock.Anything, mock.MatchedBy(func(job internal.Job) bool {
			return job.Direction == internal.DirectionEthToSolana && job.Request == nil &&
				job.Snapshot != nil && job.Snapshot.TransferID == "slow" && *job.Snapshot.MessageKey == *key
		})).Return(nil)

		code, raw := ts.do(t, http.MethodPost, "/transfers/slow/resume", "")
		assert.Equal(t, http.StatusAccepted, code)
		assert.Equal(t, "slow", decodeResponse(t, raw).ID)
		ts.runner.AssertExpectations(t)
	})

	t.Run("already resuming", func(t *testing.T) {
		ts := newTestServer(t)
		ts.record(t, internal.Snapshot{
			TransferID:  "interrupted",
			Direction:   internal.DirectionEthToSolana,
			State:       internal.StageFailed,
			FailedStage: internal.StageSubmitting,
			Kind:        internal.KindName(internal.ErrCancelled),
		})
		ts.runner.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
		ts.runner.On("Enqueue", mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: interrupted", internal.ErrTransferInFlight)).Once()

		code, _ := ts.do(t, http.MethodPost, "/transfers/interrupted/resume", "")
		assert.Equal(t, http.StatusAccepted, code)

		code, raw := ts.do(t, http.MethodPost, "/transfers/interrupted/resume", "")
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "transfer is already being resumed", decodeResponse(t, raw).Message)
		ts.runner.AssertNumberOfCalls(t, "Enqueue", 2)
	})
}
