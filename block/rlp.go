package block

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// rlpHash RLP-encodes v and returns its Keccak-256 digest, the same
// encode-then-hash pattern go-ethereum's core/types package uses for
// Header.Hash()/Transaction.Hash().
func rlpHash(v interface{}) (h common.Hash) {
	hasher := sha3.NewLegacyKeccak256()
	rlp.Encode(hasher, v)
	hasher.Sum(h[:0])
	return h
}

// DecodeDSBlockHeader reconstructs a DSBlockHeader from its RLP encoding,
// satisfying chainstore.Decoder for the DS chain's overflow tier.
func DecodeDSBlockHeader(raw []byte) (*DSBlockHeader, error) {
	h := new(DSBlockHeader)
	if err := rlp.DecodeBytes(raw, h); err != nil {
		return nil, err
	}
	return h, nil
}

// DecodeTxBlockHeader reconstructs a TxBlockHeader from its RLP encoding,
// satisfying chainstore.Decoder for a shard transaction chain's overflow
// tier.
func DecodeTxBlockHeader(raw []byte) (*TxBlockHeader, error) {
	h := new(TxBlockHeader)
	if err := rlp.DecodeBytes(raw, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Address derives a 20-byte address from a BLS public key the way the
// teacher's crypto layer derives Ethereum-style addresses: Keccak-256 of
// the encoded public key, keeping the low-order 20 bytes.
func Address(pubKey []byte) common.Address {
	var addr common.Address
	hash := rlpHash(pubKey)
	copy(addr[:], hash[12:])
	return addr
}
