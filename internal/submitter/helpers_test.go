package submitter

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/portal-transfer/internal"
)

const (
	testToken     = "0x6b175474e89094c44da98b954eedeac495271d0f"
	testEVMWallet = "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"
	testSolWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSolPayer  = "So11111111111111111111111111111111111111112"
)

type testSigner struct {
	address string
}

func (s testSigner) Address() string { return s.address }

func (s testSigner) Sign(context.Context, []byte) ([]byte, error) {
	return make([]byte, 65), nil
}

func evmAddress32(addr string) [32]byte {
	var out [32]byte
	copy(out[12:], common.HexToAddress(addr).Bytes())
	return out
}

// tokenTransferVAA builds a signed-shape VAA carrying a token transfer of
// amount to `to` on toChain, emitted by the Ethereum token bridge.
func tokenTransferVAA(toChain vaaLib.ChainID, to [32]byte, amount int64, sequence uint64) internal.Attestation {
	out := []byte{1, 0, 0, 0, 4, 1}
	out = append(out, make([]byte, 66)...)

	body := make([]byte, 51)
	binary.BigEndian.PutUint32(body[0:4], 1_700_000_000)
	binary.BigEndian.PutUint16(body[8:10], uint16(vaaLib.ChainIDEthereum))
	emitter := evmAddress32(internal.EthereumTokenBridge)
	copy(body[10:42], emitter[:])
	binary.BigEndian.PutUint64(body[42:50], sequence)
	body[50] = 1

	payload := make([]byte, 133)
	payload[0] = 1
	big.NewInt(amount).FillBytes(payload[1:33])
	token := evmAddress32(testToken)
	copy(payload[33:65], token[:])
	binary.BigEndian.PutUint16(payload[65:67], uint16(vaaLib.ChainIDEthereum))
	copy(payload[67:99], to[:])
	binary.BigEndian.PutUint16(payload[99:101], uint16(toChain))

	return append(append(out, body...), payload...)
}

func transferRequest(source, destination vaaLib.ChainID, asset, sender, recipient string, amount *big.Int) internal.TransferRequest {
	return internal.NewTransferRequest(source, destination, asset, amount, sender, recipient, "")
}
