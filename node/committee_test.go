package node

import (
	"testing"

	"github.com/shardcore/corenode/cryptoutil"
)

func TestCommitteeRegistryResolveCachesAndRejectsGarbage(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub, err := cryptoutil.PublicFromBytes(kp.Public)
	if err != nil {
		t.Fatalf("PublicFromBytes: %v", err)
	}
	hexKey := pub.SerializeToHexStr()

	registry := newCommitteeRegistry()
	resolved := registry.resolve(hexKey)
	if resolved == nil {
		t.Fatalf("expected a valid hex public key to resolve")
	}
	if registry.resolve(hexKey) != resolved {
		t.Fatalf("expected a cached resolve to return the same pointer")
	}

	if registry.resolve("not-a-valid-hex-key") != nil {
		t.Fatalf("expected garbage input to fail resolution")
	}
}

func TestCommitteeRegistryAddressForIsDeterministicAndCached(t *testing.T) {
	kp, _ := cryptoutil.GenerateKeyPair()
	pub, _ := cryptoutil.PublicFromBytes(kp.Public)
	hexKey := pub.SerializeToHexStr()

	registry := newCommitteeRegistry()
	a1 := registry.addressFor(hexKey)
	a2 := registry.addressFor(hexKey)
	if a1 != a2 {
		t.Fatalf("expected addressFor to be deterministic for the same key")
	}

	other, _ := cryptoutil.PublicFromBytes(func() []byte {
		kp2, _ := cryptoutil.GenerateKeyPair()
		return kp2.Public
	}())
	if registry.addressFor(other.SerializeToHexStr()) == a1 {
		t.Fatalf("expected distinct keys to derive distinct addresses")
	}
}
