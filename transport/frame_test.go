package transport

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Type: TypeConsensusUser, Instruction: InstructionCS1Vote, Body: []byte("vote-payload")}
	buf := Encode(f)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != f.Type || got.Instruction != f.Instruction {
		t.Fatalf("type/instruction mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("body mismatch: got %q want %q", got.Body, f.Body)
	}
	if got.Version != frameVersion {
		t.Fatalf("expected version %d, got %d", frameVersion, got.Version)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestDecodeRejectsTruncatedBody(t *testing.T) {
	f := Frame{Type: TypeNode, Instruction: InstructionDSBlock, Body: []byte("hello")}
	buf := Encode(f)
	if _, err := Decode(buf[:len(buf)-2]); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	f := Frame{Type: TypeLookup, Instruction: InstructionMicroBlock, Body: []byte("lookup-body")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got.Body, f.Body) || got.Type != f.Type || got.Instruction != f.Instruction {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestReadFrameMultipleSequential(t *testing.T) {
	var buf bytes.Buffer
	first := Frame{Type: TypePeer, Instruction: 0, Body: []byte("a")}
	second := Frame{Type: TypeNode, Instruction: InstructionForwardTransaction, Body: []byte("bb")}
	_ = WriteFrame(&buf, first)
	_ = WriteFrame(&buf, second)

	got1, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	got2, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if string(got1.Body) != "a" || string(got2.Body) != "bb" {
		t.Fatalf("unexpected sequential bodies: %q %q", got1.Body, got2.Body)
	}
}
