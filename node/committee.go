package node

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/harmony-one/bls/ffi/go/bls"
	lru "github.com/hashicorp/golang-lru"

	"github.com/shardcore/corenode/cryptoutil"
)

// committeeRegistryCacheSize bounds the number of distinct hex pubkeys
// the registry keeps resolved. A committee rotates through view-changes
// and resharding, so this is sized well above any single epoch's
// committee count rather than pinned to one shard's exact size.
const committeeRegistryCacheSize = 4096

// committeeRegistry resolves a committee member's hex-encoded public key
// into its deserialized bls.PublicKey and derived address, caching each
// after first use. consensus.Coordinator's resolve callback and the
// leader loop's coinbase crediting (addressFor) both read through this.
type committeeRegistry struct {
	pub  *lru.Cache
	addr *lru.Cache
}

func newCommitteeRegistry() *committeeRegistry {
	pub, err := lru.New(committeeRegistryCacheSize)
	if err != nil {
		panic(err)
	}
	addr, err := lru.New(committeeRegistryCacheSize)
	if err != nil {
		panic(err)
	}
	return &committeeRegistry{pub: pub, addr: addr}
}

func (r *committeeRegistry) resolve(pubKeyHex string) *bls.PublicKey {
	if cached, ok := r.pub.Get(pubKeyHex); ok {
		return cached.(*bls.PublicKey)
	}
	pk, err := cryptoutil.PublicFromHex(pubKeyHex)
	if err != nil {
		return nil
	}
	r.pub.Add(pubKeyHex, pk)
	return pk
}

// addressFor derives and caches the address for a committee member's
// public key, used to credit coinbase rewards by cosigner pubkey.
func (r *committeeRegistry) addressFor(pubKeyHex string) common.Address {
	if cached, ok := r.addr.Get(pubKeyHex); ok {
		return cached.(common.Address)
	}
	addr, err := cryptoutil.PubKeyHexToAddress(pubKeyHex)
	if err != nil {
		return common.Address{}
	}
	r.addr.Add(pubKeyHex, addr)
	return addr
}
