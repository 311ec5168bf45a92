// Package block defines the on-chain data types shared by the gossip,
// consensus, and chainstore layers: block headers for the two chains this
// system maintains (the DS chain and the shard transaction chain),
// microblocks, transactions, accounts, and the BLS key material identifying
// peers. Structs are RLP-tagged the way the teacher repo's core/types
// package tags its Block/Header/Transaction types, so the same
// github.com/ethereum/go-ethereum/rlp encoder/decoder serializes them for
// wire transfer and persistence.
package block

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// BLSSignatureSizeInBytes is the serialized length of a single BLS381
// signature, mirrored from the teacher's shard.BLSSignatureSizeInBytes.
const BLSSignatureSizeInBytes = 96

// BLSPublicKeySizeInBytes is the serialized length of a single BLS381
// public key.
const BLSPublicKeySizeInBytes = 48

// CoSignatures is the two-round aggregated BLS multisignature bundle a
// completed consensus round produces, attached to both DS blocks and
// final (tx) blocks: cs1/b1 over the block itself, cs2/b2 over
// (cs1 || b1), each bitmap carrying one bit per committee member in
// canonical order.
type CoSignatures struct {
	CS1 []byte
	B1  []byte
	CS2 []byte
	B2  []byte
}

// DSBlockHeader is the header of a block produced by the directory
// service: committee membership for the epoch, sharding assignment
// commitment, difficulty, and the coinbase/reward-control inputs needed to
// reproduce CoinbaseTracker's split deterministically from the header
// alone.
type DSBlockHeader struct {
	BlockNum       uint64
	EpochNum       uint64
	PrevHash       common.Hash
	LeaderPubKey   []byte
	CommitteeHash  common.Hash
	ShardingHash   common.Hash
	Difficulty     uint32
	Timestamp      uint64
	RewardControlContract common.Address
	CoSig          CoSignatures
}

// Hash returns the RLP hash of the header's identifying fields (everything
// but the co-signature, which signs over this hash rather than being
// covered by it).
func (h *DSBlockHeader) Hash() common.Hash {
	return rlpHash(struct {
		BlockNum      uint64
		EpochNum      uint64
		PrevHash      common.Hash
		LeaderPubKey  []byte
		CommitteeHash common.Hash
		ShardingHash  common.Hash
		Difficulty    uint32
		Timestamp     uint64
		RewardControlContract common.Address
	}{
		h.BlockNum, h.EpochNum, h.PrevHash, h.LeaderPubKey,
		h.CommitteeHash, h.ShardingHash, h.Difficulty, h.Timestamp,
		h.RewardControlContract,
	})
}

// Number satisfies chainstore.Block for the DS chain.
func (h *DSBlockHeader) Number() uint64 { return h.BlockNum }

// Encode satisfies chainstore.Block for the DS chain's overflow tier.
func (h *DSBlockHeader) Encode() ([]byte, error) { return rlp.EncodeToBytes(h) }

// TxBlockHeader is the header of a shard's transaction (final) block:
// links the microblocks submitted for this round into a single commitment
// and carries the round's CoSignatures.
type TxBlockHeader struct {
	ShardID         uint32
	BlockNum        uint64
	EpochNum        uint64
	PrevHash        common.Hash
	MicroBlockRoot  common.Hash
	StateRoot       common.Hash
	Timestamp       uint64
	CoSig           CoSignatures
}

// Hash returns the RLP hash of the header's identifying fields.
func (h *TxBlockHeader) Hash() common.Hash {
	return rlpHash(struct {
		ShardID        uint32
		BlockNum       uint64
		EpochNum       uint64
		PrevHash       common.Hash
		MicroBlockRoot common.Hash
		StateRoot      common.Hash
		Timestamp      uint64
	}{
		h.ShardID, h.BlockNum, h.EpochNum, h.PrevHash,
		h.MicroBlockRoot, h.StateRoot, h.Timestamp,
	})
}

// Number satisfies chainstore.Block for a shard's transaction chain.
func (h *TxBlockHeader) Number() uint64 { return h.BlockNum }

// Encode satisfies chainstore.Block for a shard transaction chain's
// overflow tier.
func (h *TxBlockHeader) Encode() ([]byte, error) { return rlp.EncodeToBytes(h) }

// MicroBlockHeader identifies a single shard's contribution to a tx block:
// the ordered transaction set it processed plus the shard-local state
// delta, signed by that shard's own committee before being folded into the
// final block.
type MicroBlockHeader struct {
	ShardID      uint32
	BlockNum     uint64
	TxRoot       common.Hash
	StateDelta   common.Hash
	ProposerPubKey []byte
}

// MicroBlock pairs a MicroBlockHeader with the transactions it commits to.
type MicroBlock struct {
	Header       MicroBlockHeader
	Transactions []Transaction
}

// Hash returns the RLP hash of the microblock header.
func (h *MicroBlockHeader) Hash() common.Hash {
	return rlpHash(h)
}

// Transaction is a minimal value-transfer transaction: sender and
// recipient accounts, amount, and a BLS signature over the rest of the
// fields (no separate recover-from-signature step — BLS signatures don't
// recover the public key, so From is carried explicitly, unlike an
// ECDSA-signed Ethereum transaction).
type Transaction struct {
	Nonce     uint64
	From      common.Address
	To        common.Address
	Amount    *big.Int
	ShardID   uint32
	Signature []byte
}

// Hash returns the RLP hash of the transaction's identifying fields.
func (t *Transaction) Hash() common.Hash {
	return rlpHash(struct {
		Nonce   uint64
		From    common.Address
		To      common.Address
		Amount  *big.Int
		ShardID uint32
	}{t.Nonce, t.From, t.To, t.Amount, t.ShardID})
}

// Account is a single shard-local balance entry. The authoritative store
// is the external AccountTrie this package's consumers hold; Account is
// the value type moved in and out of it.
type Account struct {
	Address common.Address
	Balance *big.Int
	Nonce   uint64
}

// Peer identifies a gossip/consensus network participant: its dial
// address and its BLS public key.
type Peer struct {
	IP        string
	Port      uint16
	ConsensusPubKey []byte
}

// KeyPair is a BLS381 private/public key pair, serialized as raw bytes so
// it can be carried across the harmony-one/bls wrapper boundary without
// this package importing the bls C bindings directly.
type KeyPair struct {
	Private []byte
	Public  []byte
}
