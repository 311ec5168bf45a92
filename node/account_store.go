// Package node wires the rest of this tree's packages (transport, ds,
// consensus, viewchange, coinbase, byzantine, chainstore, persistence,
// cryptoutil) into the message-dispatch-and-driven-loop shape spec.md §2
// describes, adapted from the teacher's node/node.go,
// node/node_newblock.go and node/relay/broadcast.go — generalized off
// Harmony's core.BlockChain/TxPool/worker.Worker machinery onto this
// module's own block/chainstore/coinbase types.
package node

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/shardcore/corenode/persistence"
)

const accountTable = "account"

// accountRecord is the RLP-encoded value stored per address.
type accountRecord struct {
	Balance *big.Int
	Nonce   uint64
}

// AccountStore is the minimal per-shard balance/nonce ledger the coinbase
// settlement path, transaction admission, and the RPC front end all read
// and write through. Guarded by a single RWMutex plus a depth-1 writer
// queue, per spec.md §5's "NUM_OF_WRITERS_IN_QUEUE = 1" description for
// the external AccountStore collaborator: concurrent readers proceed
// freely, but at most one writer is ever admitted at a time and a second
// concurrent writer blocks on writeTurn until the first releases it.
type AccountStore struct {
	mu       sync.RWMutex
	kv       persistence.KV
	writeTurn chan struct{} // depth-1 buffered semaphore
}

// NewAccountStore builds an AccountStore backed by kv.
func NewAccountStore(kv persistence.KV) *AccountStore {
	s := &AccountStore{kv: kv, writeTurn: make(chan struct{}, 1)}
	s.writeTurn <- struct{}{}
	return s
}

func accountKey(addr common.Address) []byte {
	return persistence.Namespace(accountTable, addr[:])
}

func (s *AccountStore) read(addr common.Address) (accountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.kv.Get(accountKey(addr))
	if err != nil {
		if err == persistence.ErrNotFound {
			return accountRecord{Balance: big.NewInt(0)}, nil
		}
		return accountRecord{}, err
	}
	var rec accountRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return accountRecord{}, err
	}
	return rec, nil
}

// write stores rec; callers hold writeTurn across their read-modify-write.
func (s *AccountStore) write(addr common.Address, rec accountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return s.kv.Put(accountKey(addr), raw)
}

// Balance returns addr's current balance, zero if the address has never
// been credited.
func (s *AccountStore) Balance(addr common.Address) (*big.Int, error) {
	rec, err := s.read(addr)
	if err != nil {
		return nil, err
	}
	return rec.Balance, nil
}

// Nonce returns addr's current nonce.
func (s *AccountStore) Nonce(addr common.Address) (uint64, error) {
	rec, err := s.read(addr)
	if err != nil {
		return 0, err
	}
	return rec.Nonce, nil
}

// CreditCoinbase implements coinbase.Credit: it adds amount to addr's
// balance, the settlement path coinbase.Tracker.Settle and
// coinbase.InitCoinbase both call through.
func (s *AccountStore) CreditCoinbase(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Errorf("account: refusing to credit negative amount to %s", addr.Hex())
	}
	<-s.writeTurn
	defer func() { s.writeTurn <- struct{}{} }()
	rec, err := s.read(addr)
	if err != nil {
		return err
	}
	rec.Balance = new(big.Int).Add(rec.Balance, amount)
	return s.write(addr, rec)
}

// Debit subtracts amount from addr's balance and advances its nonce by
// one, rejecting the transfer if the balance would go negative — the
// write path for an admitted Transaction.
func (s *AccountStore) Debit(addr common.Address, amount *big.Int, nonce uint64) error {
	<-s.writeTurn
	defer func() { s.writeTurn <- struct{}{} }()
	rec, err := s.read(addr)
	if err != nil {
		return err
	}
	if rec.Nonce != nonce {
		return errors.Errorf("account: nonce mismatch for %s: have %d, want %d", addr.Hex(), rec.Nonce, nonce)
	}
	if rec.Balance.Cmp(amount) < 0 {
		return errors.Errorf("account: insufficient balance for %s", addr.Hex())
	}
	rec.Balance = new(big.Int).Sub(rec.Balance, amount)
	rec.Nonce++
	return s.write(addr, rec)
}
