package node

import (
	"sync"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/bloom"
)

// txPool holds admitted-but-not-yet-microblocked transactions for this
// node's shard. A bloom.Filter screens out transactions this node has
// already seen before the (more expensive) account balance/nonce checks
// run, the same screen-before-verify shape transport.SeenCache applies at
// the frame level — here applied at the transaction-content
// level so a transaction gossiped twice by two different peers is not
// re-verified twice.
type txPool struct {
	mu      sync.Mutex
	seen    *bloom.Filter
	pending []block.Transaction
}

func newTxPool(seen *bloom.Filter) *txPool {
	return &txPool{seen: seen}
}

// Add admits tx if its hash has not been seen before, verifying it
// against accounts before queuing it for the next microblock. Returns
// false if the transaction was a duplicate or failed admission.
func (p *txPool) Add(tx block.Transaction, accounts *AccountStore) bool {
	hash := tx.Hash()

	p.mu.Lock()
	if p.seen.Contains(hash[:]) {
		p.mu.Unlock()
		return false
	}
	p.seen.Insert(hash[:])
	p.mu.Unlock()

	if _, err := accounts.Balance(tx.From); err != nil {
		return false
	}
	nonce, err := accounts.Nonce(tx.From)
	if err != nil || nonce != tx.Nonce {
		return false
	}

	p.mu.Lock()
	p.pending = append(p.pending, tx)
	p.mu.Unlock()
	return true
}

// Drain removes and returns every currently pending transaction, for a
// leader composing the next microblock.
func (p *txPool) Drain() []block.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// Len reports how many transactions are currently pending.
func (p *txPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
