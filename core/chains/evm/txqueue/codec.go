package txqueue

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/smartcontractkit/ethtxqueue/core/utils"
)

// TxCodec reconstructs a signed go-ethereum transaction from stored fields,
// recovers the sender, and produces RLP-encoded wire bytes (spec §4.3).
// Sender recovery uses EIP-155 signing rules pinned to the configured
// network/chain id, so recovery agrees with the network the transaction
// will actually be broadcast to.
type TxCodec struct {
	chainID *big.Int
}

// NewTxCodec builds a codec for the given chain/network id.
func NewTxCodec(chainID int64) *TxCodec {
	return &TxCodec{chainID: big.NewInt(chainID)}
}

// Reconstruct builds a *types.Transaction from a stored row. The row must
// be signed (tx.IsSigned()) or this returns an error.
func (c *TxCodec) Reconstruct(tx *Transaction) (*types.Transaction, error) {
	if !tx.IsSigned() {
		return nil, errors.New("codec: cannot reconstruct an unsigned transaction")
	}

	var data []byte
	if tx.Data.Valid && tx.Data.String != "" {
		decoded, err := decodeHex(tx.Data.String)
		if err != nil {
			return nil, errors.Wrap(err, "codec: bad data field")
		}
		data = decoded
	}

	var to *common.Address
	if !tx.IsContractCreation() {
		addr := common.HexToAddress(tx.ToAddress)
		to = &addr
	}

	inner := &types.LegacyTx{
		Nonce:    uint64(tx.Nonce),
		GasPrice: utils.DecimalToBig(tx.GasPrice),
		Gas:      utils.DecimalToBig(tx.Gas).Uint64(),
		To:       to,
		Value:    utils.DecimalToBig(tx.Value),
		Data:     data,
	}

	r, ok := new(big.Int).SetString(tx.R.String, 10)
	if !ok {
		return nil, errors.New("codec: bad r component")
	}
	s, ok := new(big.Int).SetString(tx.S.String, 10)
	if !ok {
		return nil, errors.New("codec: bad s component")
	}
	v := big.NewInt(tx.V.ValueOrZero())

	signed, err := withSignature(inner, c.chainID, v, r, s)
	if err != nil {
		return nil, errors.Wrap(err, "codec: failed to attach signature")
	}
	return signed, nil
}

// withSignature rebuilds a transaction carrying the given raw (v, r, s)
// signature components. go-ethereum only exposes signature attachment via
// a Signer, so this constructs the unsigned tx, then swaps in the stored
// signature using the EIP-155 signer's WithSignature, which lays v/r/s out
// exactly as the network expects. A pre-EIP-155 signature (v below 35) is
// re-attached with the Homestead signer instead, so it stays unprotected and
// recovers against the same hash it was signed over.
func withSignature(inner *types.LegacyTx, chainID, v, r, s *big.Int) (*types.Transaction, error) {
	unsigned := types.NewTx(inner)
	var signer types.Signer = types.NewEIP155Signer(chainID)
	if v.Cmp(big.NewInt(35)) < 0 {
		signer = types.HomesteadSigner{}
	}
	// Derive the raw 65-byte signature in the [R || S || V] layout
	// go-ethereum's Signer.SignatureValues expects the inverse of, then
	// hand it back through SignatureValues' companion, WithSignature,
	// which is how every go-ethereum wallet integration re-attaches a
	// pre-computed signature to a freshly built transaction.
	sig := make([]byte, 65)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	recoveryID := recoveryIDFromV(v, chainID)
	sig[64] = recoveryID

	return unsigned.WithSignature(signer, sig)
}

// recoveryIDFromV converts an EIP-155 `v` value back to the 0/1 recovery id
// go-ethereum's WithSignature expects in the last signature byte.
func recoveryIDFromV(v, chainID *big.Int) byte {
	// EIP-155: v = recoveryID + chainID*2 + 35
	adjusted := new(big.Int).Sub(v, big.NewInt(35))
	adjusted.Sub(adjusted, new(big.Int).Mul(chainID, big.NewInt(2)))
	if adjusted.Sign() < 0 {
		// Pre-EIP-155 (v = recoveryID + 27).
		adjusted = new(big.Int).Sub(v, big.NewInt(27))
	}
	return byte(adjusted.Uint64() & 1)
}

// RecoverSender returns the address that produced tx's signature.
func (c *TxCodec) RecoverSender(tx *types.Transaction) (common.Address, error) {
	signer := types.NewEIP155Signer(c.chainID)
	addr, err := types.Sender(signer, tx)
	return addr, errors.Wrap(err, "codec: failed to recover sender")
}

// Encode produces the RLP wire bytes ready for eth_sendRawTransaction.
func (c *TxCodec) Encode(tx *types.Transaction) ([]byte, error) {
	b, err := rlp.EncodeToBytes(tx)
	return b, errors.Wrap(err, "codec: failed to RLP-encode transaction")
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
