// Package cryptoutil wraps github.com/harmony-one/bls/ffi/go/bls for the
// rest of the module: key generation, hash signing/verification, and BLS
// public-key aggregation, plus the pubkey-to-address derivation several
// packages (ds, coinbase) need but treat as an injected callback rather
// than importing bls directly. Grounded on the teacher's use of the same
// bls package across core/resharding.go, consensus/leader.go, and
// staking/slash/double-sign.go — this package centralizes what those files
// each did inline.
package cryptoutil

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/harmony-one/bls/ffi/go/bls"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/shardcore/corenode/block"
)

var initOnce sync.Once
var initErr error

// Init sets up the BLS381 pairing curve. Must be called once before any
// other function in this package; safe to call from multiple goroutines or
// multiple times, the underlying bls.Init only runs once.
func Init() error {
	initOnce.Do(func() {
		initErr = bls.Init(bls.BLS12_381)
	})
	return initErr
}

// ErrKeyNotInitialized names the failure of using the BLS library before
// Init. No function in this package currently returns it.
var ErrKeyNotInitialized = errors.New("cryptoutil: bls.Init was not called")

// GenerateKeyPair creates a fresh BLS381 secret/public key pair.
func GenerateKeyPair() (block.KeyPair, error) {
	if err := Init(); err != nil {
		return block.KeyPair{}, err
	}
	sk := &bls.SecretKey{}
	sk.SetByCSPRNG()
	pub := sk.GetPublicKey()
	return block.KeyPair{
		Private: sk.Serialize(),
		Public:  pub.Serialize(),
	}, nil
}

// SecretFromBytes deserializes a raw private key.
func SecretFromBytes(raw []byte) (*bls.SecretKey, error) {
	var sk bls.SecretKey
	if err := sk.Deserialize(raw); err != nil {
		return nil, errors.Wrap(err, "cryptoutil: deserialize secret key")
	}
	return &sk, nil
}

// PublicFromBytes deserializes a raw public key.
func PublicFromBytes(raw []byte) (*bls.PublicKey, error) {
	var pub bls.PublicKey
	if err := pub.Deserialize(raw); err != nil {
		return nil, errors.Wrap(err, "cryptoutil: deserialize public key")
	}
	return &pub, nil
}

// PublicFromHex deserializes a hex-encoded public key, the string form
// consensus.Member and viewchange candidate lists key committees by.
func PublicFromHex(hexStr string) (*bls.PublicKey, error) {
	var pub bls.PublicKey
	if err := pub.DeserializeHexStr(hexStr); err != nil {
		return nil, errors.Wrap(err, "cryptoutil: deserialize hex public key")
	}
	return &pub, nil
}

// Sign signs hash with sk and returns the serialized signature.
func Sign(sk *bls.SecretKey, hash []byte) []byte {
	return sk.SignHash(hash).Serialize()
}

// Verify checks sig against hash under pub.
func Verify(pub *bls.PublicKey, hash, sig []byte) bool {
	var s bls.Sign
	if err := s.Deserialize(sig); err != nil {
		return false
	}
	return s.VerifyHash(pub, hash)
}

// AggregatePublicKeys combines member public keys into a single BLS
// aggregate public key, used to verify an aggregate signature against the
// full committee without checking each member individually.
func AggregatePublicKeys(pubs []*bls.PublicKey) (*bls.PublicKey, error) {
	if len(pubs) == 0 {
		return nil, errors.New("cryptoutil: cannot aggregate zero public keys")
	}
	agg := &bls.PublicKey{}
	*agg = *pubs[0]
	for _, p := range pubs[1:] {
		agg.Add(p)
	}
	return agg, nil
}

// PubKeyToAddress derives an Ethereum-style account address from a
// serialized BLS public key: the low 20 bytes of its Keccak-256 hash, the
// same derivation go-ethereum's crypto.PubkeyToAddress uses for ECDSA
// keys, adapted here since BLS public keys are a different byte length.
func PubKeyToAddress(pubKey []byte) common.Address {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(pubKey)
	var h common.Hash
	hasher.Sum(h[:0])
	return common.BytesToAddress(h[12:])
}

// PubKeyHexToAddress is PubKeyToAddress for the hex-string form pubkeys
// are usually carried in at the consensus/ds layer.
func PubKeyHexToAddress(pubKeyHex string) (common.Address, error) {
	pub, err := PublicFromHex(pubKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return PubKeyToAddress(pub.Serialize()), nil
}
