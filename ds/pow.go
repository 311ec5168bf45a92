package ds

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"
)

// PoWSubmission is one candidate node's proof-of-work admission bid, per
// spec.md §4.3.1. GasPriceProposal is the submitter's suggested minimum
// gas price for the coming rotation, folded into the median
// GasPriceController.Adjust decreases toward per spec.md §4.4.
type PoWSubmission struct {
	Epoch            uint64
	PubKey           string
	PeerIP           string
	PeerPort         uint16
	Nonce            uint64
	Difficulty       uint32
	ResultHash       []byte
	MixHash          []byte
	Signature        []byte
	GasPriceProposal *big.Int
}

var (
	// ErrStalePoW is returned for a submission against a past epoch.
	ErrStalePoW = errors.New("ds: pow submission targets a stale epoch")
	// ErrDuplicatePoW is returned when a pubkey has already submitted
	// valid PoW for the current epoch.
	ErrDuplicatePoW = errors.New("ds: pubkey already submitted pow this epoch")
	// ErrPrivateIP is returned when the submission's advertised peer
	// address is not a routable public address.
	ErrPrivateIP = errors.New("ds: submission advertises a non-public address")
	// ErrPoWVerification is returned when the result hash does not meet
	// the advertised difficulty or the signature does not verify.
	ErrPoWVerification = errors.New("ds: pow verification failed")
)

// Verifier checks a PoW submission's proof and signature. The concrete
// implementation is the node package's powVerifier; PoWPool only depends
// on the interface so ds stays independent of the signature scheme.
type Verifier interface {
	VerifyPoW(resultHash, mixHash []byte, difficulty uint32) bool
	VerifySignature(pubKey string, payload, signature []byte) bool
}

// PublicAddressChecker reports whether an IP is routable from the public
// internet; swapped out in tests for a permissive stub.
type PublicAddressChecker interface {
	IsPublic(ip string) bool
}

// PoWPool collects and deduplicates PoW submissions for a single epoch.
type PoWPool struct {
	mu       sync.Mutex
	epoch    uint64
	verifier Verifier
	addrs    PublicAddressChecker
	accepted map[string]PoWSubmission // keyed by PubKey
}

// NewPoWPool creates an empty pool for the given epoch.
func NewPoWPool(epoch uint64, verifier Verifier, addrs PublicAddressChecker) *PoWPool {
	return &PoWPool{
		epoch:    epoch,
		verifier: verifier,
		addrs:    addrs,
		accepted: map[string]PoWSubmission{},
	}
}

// Submit validates and records one candidate's submission. Rejections are
// non-fatal: the caller logs and drops, the sender isn't penalized beyond
// its bid not counting.
func (p *PoWPool) Submit(s PoWSubmission) error {
	if s.Epoch != p.epoch {
		return ErrStalePoW
	}
	if !p.addrs.IsPublic(s.PeerIP) {
		return ErrPrivateIP
	}
	if !p.verifier.VerifyPoW(s.ResultHash, s.MixHash, s.Difficulty) {
		return ErrPoWVerification
	}
	payload := powSigningPayload(s)
	if !p.verifier.VerifySignature(s.PubKey, payload, s.Signature) {
		return ErrPoWVerification
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.accepted[s.PubKey]; dup {
		return ErrDuplicatePoW
	}
	p.accepted[s.PubKey] = s
	return nil
}

func powSigningPayload(s PoWSubmission) []byte {
	buf := make([]byte, 0, 8+len(s.ResultHash)+len(s.MixHash))
	buf = appendUint64(buf, s.Epoch)
	buf = append(buf, s.ResultHash...)
	buf = append(buf, s.MixHash...)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(56-8*i)))
	}
	return buf
}

// Winners returns every accepted submission in ascending ResultHash order,
// capped at maxWinners — the ordering spec.md §4.3.2 requires the DS-block
// consensus composition step to use when selecting the committee.
func (p *PoWPool) Winners(maxWinners int) []PoWSubmission {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PoWSubmission, 0, len(p.accepted))
	for _, s := range p.accepted {
		out = append(out, s)
	}
	sortSubmissionsByHash(out)
	if maxWinners > 0 && len(out) > maxWinners {
		out = out[:maxWinners]
	}
	return out
}

func sortSubmissionsByHash(subs []PoWSubmission) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && lessHash(subs[j].ResultHash, subs[j-1].ResultHash); j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}

func lessHash(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Count returns how many distinct pubkeys have a currently-accepted
// submission.
func (p *PoWPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accepted)
}

// GasPriceProposals returns every accepted submission's GasPriceProposal,
// skipping submissions that didn't supply one. Order is unspecified —
// the gas-price controller only consumes these as a set to median over.
func (p *PoWPool) GasPriceProposals() []*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*big.Int, 0, len(p.accepted))
	for _, s := range p.accepted {
		if s.GasPriceProposal != nil {
			out = append(out, s.GasPriceProposal)
		}
	}
	return out
}
