package node

import (
	"crypto/sha256"
	"net"

	"github.com/shardcore/corenode/cryptoutil"
)

// powVerifier implements ds.Verifier: it checks a submitted result hash
// meets its advertised difficulty (leading zero bits, the same
// hash-race shape the original DS PoW verification performs against
// POW_DIFFICULTY) and that the submission's signature verifies against
// the committee member's BLS key, delegating signature checking to
// cryptoutil rather than duplicating its verification logic.
type powVerifier struct {
	registry *committeeRegistry
}

func newPoWVerifier(registry *committeeRegistry) *powVerifier {
	return &powVerifier{registry: registry}
}

// VerifyPoW reports whether sha256(resultHash) has at least difficulty
// leading zero bits and mixHash is non-empty. No third-party
// library in this tree covers proof-of-work hash verification, so this
// stays on the standard library's crypto/sha256.
func (v *powVerifier) VerifyPoW(resultHash, mixHash []byte, difficulty uint32) bool {
	if len(resultHash) == 0 || len(mixHash) == 0 {
		return false
	}
	sum := sha256.Sum256(resultHash)
	return leadingZeroBits(sum[:]) >= difficulty
}

func leadingZeroBits(b []byte) uint32 {
	var count uint32
	for _, byt := range b {
		if byt == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if byt&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// VerifySignature checks signature over payload against pubKey's BLS
// public key, resolved and cached through the shared committeeRegistry.
func (v *powVerifier) VerifySignature(pubKey string, payload, signature []byte) bool {
	pub := v.registry.resolve(pubKey)
	if pub == nil {
		return false
	}
	return cryptoutil.Verify(pub, payload, signature)
}

// publicAddressChecker rejects PoW submissions that advertise a
// non-routable address, per spec.md §4.3.1's peer-address validation.
// No third-party library in this tree covers RFC1918/loopback
// classification, so this stays on the standard library's net package.
type publicAddressChecker struct{}

func (publicAddressChecker) IsPublic(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return false
	}
	return !isPrivateRange(parsed)
}

var privateBlocks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

func isPrivateRange(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
