package block

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func TestDSBlockHeaderRLPRoundTrip(t *testing.T) {
	h := &DSBlockHeader{
		BlockNum:      42,
		EpochNum:      3,
		LeaderPubKey:  []byte{1, 2, 3},
		Difficulty:    5,
		Timestamp:     1234567890,
	}
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded DSBlockHeader
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.BlockNum != h.BlockNum || decoded.EpochNum != h.EpochNum || decoded.Difficulty != h.Difficulty {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
	}
}

func TestTxBlockHeaderHashIsStable(t *testing.T) {
	h := &TxBlockHeader{ShardID: 1, BlockNum: 10, Timestamp: 100}
	a := h.Hash()
	b := h.Hash()
	if a != b {
		t.Fatalf("hash not deterministic: %v != %v", a, b)
	}

	h2 := &TxBlockHeader{ShardID: 2, BlockNum: 10, Timestamp: 100}
	if h.Hash() == h2.Hash() {
		t.Fatalf("different headers hashed to the same value")
	}
}

func TestTransactionRLPRoundTrip(t *testing.T) {
	tx := &Transaction{
		Nonce:     1,
		Amount:    big.NewInt(500),
		ShardID:   0,
		Signature: []byte{0xAB, 0xCD},
	}
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Transaction
	if err := rlp.DecodeBytes(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Nonce != tx.Nonce || decoded.Amount.Cmp(tx.Amount) != 0 {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}

func TestAddressDerivationIsDeterministicAndDistinct(t *testing.T) {
	pub1 := []byte{1, 2, 3, 4}
	pub2 := []byte{5, 6, 7, 8}

	if Address(pub1) != Address(pub1) {
		t.Fatalf("address derivation not deterministic")
	}
	if Address(pub1) == Address(pub2) {
		t.Fatalf("distinct public keys derived the same address")
	}
}

func TestMicroBlockHeaderHash(t *testing.T) {
	h := MicroBlockHeader{ShardID: 1, BlockNum: 1}
	if h.Hash() != h.Hash() {
		t.Fatalf("hash should be stable")
	}
}
