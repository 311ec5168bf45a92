package persistence

import (
	"bytes"
	"testing"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}
func (m *memKV) Put(key, value []byte) error { m.data[string(key)] = value; return nil }
func (m *memKV) Delete(key []byte) error     { delete(m.data, string(key)); return nil }
func (m *memKV) NewBatch() Batch             { return &memBatch{kv: m} }

type memBatch struct {
	kv      *memKV
	puts    map[string][]byte
	deletes []string
}

func (b *memBatch) Put(key, value []byte) {
	if b.puts == nil {
		b.puts = map[string][]byte{}
	}
	b.puts[string(key)] = value
}
func (b *memBatch) Delete(key []byte) { b.deletes = append(b.deletes, string(key)) }
func (b *memBatch) Commit() error {
	for k, v := range b.puts {
		b.kv.data[k] = v
	}
	for _, k := range b.deletes {
		delete(b.kv.data, k)
	}
	return nil
}

func TestTempOverlayReadsThroughToBase(t *testing.T) {
	base := newMemKV()
	base.Put([]byte("a"), []byte("base-value"))

	o := NewTempOverlay(base)
	v, err := o.Get([]byte("a"))
	if err != nil || !bytes.Equal(v, []byte("base-value")) {
		t.Fatalf("expected read-through to base, got %q err %v", v, err)
	}
}

func TestTempOverlayPutShadowsBaseUntilCommit(t *testing.T) {
	base := newMemKV()
	base.Put([]byte("a"), []byte("old"))

	o := NewTempOverlay(base)
	o.Put([]byte("a"), []byte("new"))

	v, _ := o.Get([]byte("a"))
	if !bytes.Equal(v, []byte("new")) {
		t.Fatalf("expected overlay value before commit, got %q", v)
	}
	if baseVal, _ := base.Get([]byte("a")); !bytes.Equal(baseVal, []byte("old")) {
		t.Fatalf("base should be untouched before commit, got %q", baseVal)
	}

	if err := o.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if baseVal, _ := base.Get([]byte("a")); !bytes.Equal(baseVal, []byte("new")) {
		t.Fatalf("expected base updated after commit, got %q", baseVal)
	}
}

func TestTempOverlayAbortDiscardsStagedWrites(t *testing.T) {
	base := newMemKV()
	base.Put([]byte("a"), []byte("old"))

	o := NewTempOverlay(base)
	o.Put([]byte("a"), []byte("new"))
	o.Abort()

	v, _ := o.Get([]byte("a"))
	if !bytes.Equal(v, []byte("old")) {
		t.Fatalf("expected abort to discard staged write, got %q", v)
	}
}

func TestTempOverlayDeleteShadowsBase(t *testing.T) {
	base := newMemKV()
	base.Put([]byte("a"), []byte("old"))

	o := NewTempOverlay(base)
	o.Delete([]byte("a"))

	if _, err := o.Get([]byte("a")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for staged delete, got %v", err)
	}
}

func TestAcquireWriterBoundsConcurrentWriters(t *testing.T) {
	base := newMemKV()
	o := NewTempOverlay(base)

	release := o.AcquireWriter()
	acquired := make(chan struct{})
	go func() {
		r := o.AcquireWriter()
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatalf("second writer acquired slot while first still held it")
	default:
	}
	release()
	<-acquired
}

func TestNamespacePrefixesKeys(t *testing.T) {
	a := Namespace("dsblock", []byte{1, 2, 3})
	b := Namespace("txblock", []byte{1, 2, 3})
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct namespaces to produce distinct keys")
	}
}
