package node

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/chainstore"
	"github.com/shardcore/corenode/ds"
	"github.com/shardcore/corenode/rpc"
)

// shardChain bundles one shard's transaction chain store with the small
// secondary indices (block hash, transaction hash) chainstore.Store
// itself doesn't keep, since it only indexes by sequential block number.
type shardChain struct {
	mu        sync.RWMutex
	store     *chainstore.Store
	byHash    map[common.Hash]uint64
	txIndex   map[common.Hash]block.Transaction
	txBlock   map[common.Hash]common.Hash
}

func newShardChain(store *chainstore.Store) *shardChain {
	return &shardChain{
		store:   store,
		byHash:  map[common.Hash]uint64{},
		txIndex: map[common.Hash]block.Transaction{},
		txBlock: map[common.Hash]common.Hash{},
	}
}

// recordFinalized indexes a freshly-committed TxBlockHeader and the
// microblock transactions it settles, called by the leader loop right
// after chainstore.Store.AddBlock succeeds.
func (c *shardChain) recordFinalized(hdr *block.TxBlockHeader, txs []block.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := hdr.Hash()
	c.byHash[hash] = hdr.BlockNum
	for _, tx := range txs {
		txHash := tx.Hash()
		c.txIndex[txHash] = tx
		c.txBlock[txHash] = hash
	}
}

// chainReader implements rpc.ChainReader over this node's per-shard
// transaction chains and account store.
type chainReader struct {
	mu       sync.RWMutex
	chains   map[uint32]*shardChain
	accounts *AccountStore
	gasPrice *ds.GasPriceController
}

func newChainReader(accounts *AccountStore, gasPrice *ds.GasPriceController) *chainReader {
	return &chainReader{chains: map[uint32]*shardChain{}, accounts: accounts, gasPrice: gasPrice}
}

func (r *chainReader) addShard(shardID uint32, sc *shardChain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[shardID] = sc
}

func (r *chainReader) shard(shardID uint32) (*shardChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.chains[shardID]
	return sc, ok
}

func (r *chainReader) LatestBlockNumber(shardID uint32) (uint64, error) {
	sc, ok := r.shard(shardID)
	if !ok {
		return 0, errUnknownShard(shardID)
	}
	blk, err := sc.store.GetLastBlock()
	if err != nil {
		return 0, err
	}
	return blk.Number(), nil
}

func (r *chainReader) BlockByNumber(shardID uint32, num uint64) (rpc.BlockView, error) {
	sc, ok := r.shard(shardID)
	if !ok {
		return rpc.BlockView{}, errUnknownShard(shardID)
	}
	blk, err := sc.store.GetBlock(num)
	if err != nil {
		return rpc.BlockView{}, err
	}
	return toBlockView(blk), nil
}

func (r *chainReader) BlockByHash(shardID uint32, hash common.Hash) (rpc.BlockView, error) {
	sc, ok := r.shard(shardID)
	if !ok {
		return rpc.BlockView{}, errUnknownShard(shardID)
	}
	sc.mu.RLock()
	num, ok := sc.byHash[hash]
	sc.mu.RUnlock()
	if !ok {
		return rpc.BlockView{}, chainstore.ErrNotFound
	}
	blk, err := sc.store.GetBlock(num)
	if err != nil {
		return rpc.BlockView{}, err
	}
	return toBlockView(blk), nil
}

func (r *chainReader) TransactionByHash(hash common.Hash) (rpc.TxView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sc := range r.chains {
		sc.mu.RLock()
		tx, ok := sc.txIndex[hash]
		sc.mu.RUnlock()
		if ok {
			return rpc.TxView{Hash: tx.Hash(), From: tx.From, To: tx.To, Amount: tx.Amount, Nonce: tx.Nonce}, nil
		}
	}
	return rpc.TxView{}, chainstore.ErrNotFound
}

func (r *chainReader) Balance(addr common.Address) (*big.Int, error) {
	return r.accounts.Balance(addr)
}

func (r *chainReader) Nonce(addr common.Address) (uint64, error) {
	return r.accounts.Nonce(addr)
}

func (r *chainReader) GasPrice() uint64 {
	return r.gasPrice.Price().Uint64()
}

func toBlockView(b chainstore.Block) rpc.BlockView {
	hdr, ok := b.(*block.TxBlockHeader)
	if !ok {
		return rpc.BlockView{Number: b.Number()}
	}
	return rpc.BlockView{Hash: hdr.Hash(), Number: hdr.BlockNum}
}

type errUnknownShardErr struct{ shardID uint32 }

func (e errUnknownShardErr) Error() string {
	return "node: unknown shard"
}

func errUnknownShard(shardID uint32) error { return errUnknownShardErr{shardID: shardID} }
