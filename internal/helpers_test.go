package internal

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const (
	testToken       = "0x6b175474e89094c44da98b954eedeac495271d0f"
	testEVMWallet   = "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"
	testSolWallet   = "So11111111111111111111111111111111111111112"
	testSolMint     = "11111111111111111111111111111111"
	testSourceTxID  = "0xsource"
	testDestTxID    = "destination-signature"
	testAttestation = "localhost:7073"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bridges[vaaLib.ChainIDEthereum] = BridgeConfig{
		Kind:        ChainKindEVM,
		TokenBridge: EthereumTokenBridge,
		CoreBridge:  EthereumCoreBridge,
	}
	cfg.Bridges[vaaLib.ChainIDSolana] = BridgeConfig{
		Kind:        ChainKindSolana,
		TokenBridge: SolanaTokenBridge,
		CoreBridge:  SolanaCoreBridge,
	}
	cfg.AttestationEndpoint = testAttestation
	cfg.AttestationMaxAttempts = 3
	cfg.AttestationTimeout = 200 * time.Millisecond
	cfg.AttestationBackoff = time.Millisecond
	cfg.AttestationMaxBackoff = time.Millisecond
	cfg.ConfirmationTimeout = 300 * time.Millisecond
	cfg.ConfirmationPollInterval = time.Millisecond
	return cfg
}

func ethToSolanaRequest() TransferRequest {
	return NewTransferRequest(vaaLib.ChainIDEthereum, vaaLib.ChainIDSolana,
		testToken, big.NewInt(1_000_000), testEVMWallet, testSolWallet, "DAI")
}

// ethMessageKey is the key the Ethereum token bridge emits for sequence.
func ethMessageKey(sequence uint64) MessageKey {
	var emitter vaaLib.Address
	copy(emitter[12:], common.HexToAddress(EthereumTokenBridge).Bytes())
	return MessageKey{EmitterChain: vaaLib.ChainIDEthereum, EmitterAddress: emitter, Sequence: sequence}
}

// buildVAA serializes a v1 VAA with one zero signature.
func buildVAA(key MessageKey, payload []byte) Attestation {
	out := []byte{1, 0, 0, 0, 4, 1}
	out = append(out, make([]byte, 66)...)

	body := make([]byte, 51)
	binary.BigEndian.PutUint32(body[0:4], 1_700_000_000)
	binary.BigEndian.PutUint32(body[4:8], 42)
	binary.BigEndian.PutUint16(body[8:10], uint16(key.EmitterChain))
	copy(body[10:42], key.EmitterAddress[:])
	binary.BigEndian.PutUint64(body[42:50], key.Sequence)
	body[50] = 1
	return append(append(out, body...), payload...)
}

// transferPayload encodes a type 1 token transfer header.
func transferPayload(amount int64, originChain vaaLib.ChainID, to vaaLib.Address, toChain vaaLib.ChainID) []byte {
	p := make([]byte, 133)
	p[0] = 1
	big.NewInt(amount).FillBytes(p[1:33])
	p[44] = 0xaa
	binary.BigEndian.PutUint16(p[65:67], uint16(originChain))
	copy(p[67:99], to[:])
	binary.BigEndian.PutUint16(p[99:101], uint16(toChain))
	return p
}

// publishedLog builds the LogMessagePublished log of the Ethereum token bridge.
func publishedLog(sequence uint64) *types.Log {
	data, err := LogMessagePublishedEvent.Inputs.NonIndexed().Pack(sequence, uint32(7), []byte{1, 2, 3}, uint8(1))
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: common.HexToAddress(EthereumCoreBridge),
		Topics: []common.Hash{
			LogMessagePublishedEvent.ID,
			common.BytesToHash(common.HexToAddress(EthereumTokenBridge).Bytes()),
		},
		Data: data,
	}
}

// callLog records collaborator calls across mocks in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockSource struct {
	mock.Mock
	chain vaaLib.ChainID
	log   *callLog
}

func (m *mockSource) Chain() vaaLib.ChainID { return m.chain }

func (m *mockSource) Submit(ctx context.Context, req TransferRequest, signer Signer) (SubmissionHandle, error) {
	m.log.add("Submit")
	args := m.Called(ctx, req, signer)
	return args.Get(0).(SubmissionHandle), args.Error(1)
}

func (m *mockSource) Receipt(ctx context.Context, handle SubmissionHandle) (*FinalizedReceipt, error) {
	m.log.add("Receipt")
	args := m.Called(ctx, handle)
	receipt, _ := args.Get(0).(*FinalizedReceipt)
	return receipt, args.Error(1)
}

type mockDestination struct {
	mock.Mock
	chain vaaLib.ChainID
	log   *callLog
}

func (m *mockDestination) Chain() vaaLib.ChainID { return m.chain }

func (m *mockDestination) Redeem(ctx context.Context, attestation Attestation, recipient string, signer Signer) (string, error) {
	m.log.add("Redeem")
	args := m.Called(ctx, attestation, recipient, signer)
	return args.String(0), args.Error(1)
}

type mockAttestations struct {
	mock.Mock
	log *callLog
}

func (m *mockAttestations) GetSignedVAA(ctx context.Context, key MessageKey) (Attestation, error) {
	if m.log != nil {
		m.log.add("GetSignedVAA")
	}
	args := m.Called(ctx, key)
	att, _ := args.Get(0).(Attestation)
	return att, args.Error(1)
}

type staticSigner struct {
	address string
}

func (s staticSigner) Address() string { return s.address }

func (s staticSigner) Sign(context.Context, []byte) ([]byte, error) {
	return make([]byte, 65), nil
}

// memoryRecorder keeps every recorded snapshot.
type memoryRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *memoryRecorder) Record(_ context.Context, snapshot Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *memoryRecorder) states() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stage, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s.State)
	}
	return out
}

func (r *memoryRecorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}
