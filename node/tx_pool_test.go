package node

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/bloom"
)

func newTestTxPool() *txPool {
	return newTxPool(bloom.New(bloom.DefaultParameters().Compute()))
}

func TestTxPoolAdmitsAndDrains(t *testing.T) {
	accounts := NewAccountStore(newMemKV())
	from := common.HexToAddress("0xa1")
	if err := accounts.CreditCoinbase(from, big.NewInt(100)); err != nil {
		t.Fatalf("CreditCoinbase: %v", err)
	}

	pool := newTestTxPool()
	tx := block.Transaction{Nonce: 0, From: from, To: common.HexToAddress("0xb2"), Amount: big.NewInt(10)}

	if !pool.Add(tx, accounts) {
		t.Fatalf("expected transaction to be admitted")
	}
	if pool.Len() != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", pool.Len())
	}

	drained := pool.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained transaction, got %d", len(drained))
	}
	if pool.Len() != 0 {
		t.Fatalf("expected pool empty after drain, got %d", pool.Len())
	}
}

func TestTxPoolRejectsDuplicateByHash(t *testing.T) {
	accounts := NewAccountStore(newMemKV())
	from := common.HexToAddress("0xa3")
	accounts.CreditCoinbase(from, big.NewInt(100))

	pool := newTestTxPool()
	tx := block.Transaction{Nonce: 0, From: from, To: common.HexToAddress("0xb4"), Amount: big.NewInt(5)}

	if !pool.Add(tx, accounts) {
		t.Fatalf("expected first submission to be admitted")
	}
	if pool.Add(tx, accounts) {
		t.Fatalf("expected duplicate submission to be rejected")
	}
	if pool.Len() != 1 {
		t.Fatalf("expected duplicate to not be queued, got %d pending", pool.Len())
	}
}

func TestTxPoolRejectsNonceMismatch(t *testing.T) {
	accounts := NewAccountStore(newMemKV())
	from := common.HexToAddress("0xa5")
	accounts.CreditCoinbase(from, big.NewInt(100))

	pool := newTestTxPool()
	tx := block.Transaction{Nonce: 7, From: from, To: common.HexToAddress("0xb6"), Amount: big.NewInt(5)}

	if pool.Add(tx, accounts) {
		t.Fatalf("expected transaction with stale nonce to be rejected")
	}
	if pool.Len() != 0 {
		t.Fatalf("expected nothing queued, got %d", pool.Len())
	}
}
