package node

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/chainstore"
	"github.com/shardcore/corenode/ds"
)

func newTestChainReader(t *testing.T, shardID uint32) (*chainReader, *shardChain) {
	t.Helper()
	accounts := NewAccountStore(newMemKV())
	gasPrice := ds.NewGasPriceController(ds.DefaultGasPriceBounds(), big.NewInt(1))
	reader := newChainReader(accounts, gasPrice)

	store := chainstore.New(chainRingCapacity, newMemKV(), "txblock", func(raw []byte) (chainstore.Block, error) {
		return block.DecodeTxBlockHeader(raw)
	})
	sc := newShardChain(store)
	reader.addShard(shardID, sc)
	return reader, sc
}

func TestChainReaderLatestBlockNumberAndBlockByNumber(t *testing.T) {
	reader, sc := newTestChainReader(t, 0)

	hdr := &block.TxBlockHeader{ShardID: 0, BlockNum: 0}
	if err := sc.store.AddBlock(hdr); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	sc.recordFinalized(hdr, nil)

	num, err := reader.LatestBlockNumber(0)
	if err != nil {
		t.Fatalf("LatestBlockNumber: %v", err)
	}
	if num != 0 {
		t.Fatalf("expected latest block number 0, got %d", num)
	}

	view, err := reader.BlockByNumber(0, 0)
	if err != nil {
		t.Fatalf("BlockByNumber: %v", err)
	}
	if view.Number != 0 {
		t.Fatalf("expected block view number 0, got %d", view.Number)
	}
}

func TestChainReaderBlockByHash(t *testing.T) {
	reader, sc := newTestChainReader(t, 0)

	hdr := &block.TxBlockHeader{ShardID: 0, BlockNum: 0}
	sc.store.AddBlock(hdr)
	sc.recordFinalized(hdr, nil)

	view, err := reader.BlockByHash(0, hdr.Hash())
	if err != nil {
		t.Fatalf("BlockByHash: %v", err)
	}
	if view.Hash != hdr.Hash() {
		t.Fatalf("expected matching hash in block view")
	}

	if _, err := reader.BlockByHash(0, common.Hash{}); err != chainstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestChainReaderUnknownShard(t *testing.T) {
	reader, _ := newTestChainReader(t, 0)
	if _, err := reader.LatestBlockNumber(99); err == nil {
		t.Fatalf("expected unknown shard to error")
	}
}

func TestChainReaderTransactionByHash(t *testing.T) {
	reader, sc := newTestChainReader(t, 0)

	tx := block.Transaction{Nonce: 0, From: common.HexToAddress("0x1"), To: common.HexToAddress("0x2"), Amount: big.NewInt(5)}
	hdr := &block.TxBlockHeader{ShardID: 0, BlockNum: 0}
	sc.store.AddBlock(hdr)
	sc.recordFinalized(hdr, []block.Transaction{tx})

	view, err := reader.TransactionByHash(tx.Hash())
	if err != nil {
		t.Fatalf("TransactionByHash: %v", err)
	}
	if view.From != tx.From {
		t.Fatalf("expected matching sender in tx view")
	}
}

func TestChainReaderBalanceAndGasPrice(t *testing.T) {
	reader, _ := newTestChainReader(t, 0)
	addr := common.HexToAddress("0x3")

	bal, err := reader.Balance(addr)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("expected zero balance for unseen address")
	}
	if reader.GasPrice() == 0 {
		t.Fatalf("expected a nonzero starting gas price")
	}
}
