// Package transport implements point-to-point and broadcast delivery over
// libp2p + gossipsub, and the wire framing inbound messages are dispatched
// by. Grounded on the teacher's p2p/ipfsutil/routing.go (libp2p host/DHT
// wiring) and node/relay/broadcast.go (group-addressed broadcast), rebuilt
// against direct libp2p/go-libp2p-pubsub rather than the teacher's internal
// p2p.Host/nodeconfig.GroupID wrapper types, which never shipped with this
// workspace.
package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Type is the outer message classification of §6.1's wire framing.
type Type uint8

const (
	TypePeer          Type = iota // peer-store ops
	TypeNode                      // node-role messages: DSBLOCK, FINALBLOCK, MICROBLOCK, FORWARDTRANSACTION
	TypeLookup                    // GET/SET DSBLOCK/TXBLOCK/STATE/TXBODY/SEEDPEERS
	TypeConsensusUser             // consensus cs1/cs2 votes
)

// Instruction is the inner message selector, meaningful only relative to
// its Type.
type Instruction uint8

// Node-type instructions.
const (
	InstructionDSBlock Instruction = iota
	InstructionFinalBlock
	InstructionMicroBlock
	InstructionForwardTransaction
)

// ConsensusUser-type instructions.
const (
	InstructionCS1Vote Instruction = iota
	InstructionCS2Vote
	InstructionViewChangeVote
)

// frameVersion is bumped only on a breaking change to the envelope layout
// itself, not on body schema changes — those are forward-compatible by
// construction (unknown tags are ignored by the body codec).
const frameVersion uint16 = 1

// ErrFrameTooShort is returned when a buffer is too small to hold even the
// fixed-size frame header.
var ErrFrameTooShort = errors.New("transport: frame shorter than header")

// ErrBodyTooLarge guards against a corrupt or hostile length prefix driving
// an unbounded allocation.
var ErrBodyTooLarge = errors.New("transport: declared body length exceeds limit")

// MaxBodySize bounds a single frame's body. Generous enough for a
// serialized DSBlock/TxBlock header plus microblock list; well under
// anything a malicious length prefix could use to exhaust memory.
const MaxBodySize = 16 << 20 // 16 MiB

// Frame is the decoded form of one inbound or outbound message: a
// (type, instruction) pair per §6.1, a version tag for forward
// compatibility, and an opaque body the (type, instruction) pair is
// responsible for interpreting.
type Frame struct {
	Type        Type
	Instruction Instruction
	Version     uint16
	Body        []byte
}

// headerSize is type(1) + instruction(1) + version(2) + bodyLen(4).
const headerSize = 1 + 1 + 2 + 4

// Encode serializes f as a length-prefixed TLV envelope: no protobuf
// toolchain is available in this exercise, so the per-field
// forward-compatibility contract of §6.1 is carried directly in the header
// instead of through generated code.
func Encode(f Frame) []byte {
	out := make([]byte, headerSize+len(f.Body))
	out[0] = byte(f.Type)
	out[1] = byte(f.Instruction)
	binary.BigEndian.PutUint16(out[2:4], frameVersion)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(f.Body)))
	copy(out[headerSize:], f.Body)
	return out
}

// Decode parses a single frame from buf. Unknown version numbers are
// accepted (not rejected) to satisfy §6.1's unknown-field forward
// compatibility contract; callers that need strict versioning should check
// f.Version themselves.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerSize {
		return Frame{}, ErrFrameTooShort
	}
	bodyLen := binary.BigEndian.Uint32(buf[4:8])
	if bodyLen > MaxBodySize {
		return Frame{}, ErrBodyTooLarge
	}
	if len(buf) < headerSize+int(bodyLen) {
		return Frame{}, ErrFrameTooShort
	}
	body := make([]byte, bodyLen)
	copy(body, buf[headerSize:headerSize+int(bodyLen)])
	return Frame{
		Type:        Type(buf[0]),
		Instruction: Instruction(buf[1]),
		Version:     binary.BigEndian.Uint16(buf[2:4]),
		Body:        body,
	}, nil
}

// WriteFrame writes f to w, prefixed by nothing further: Encode already
// produces a self-delimiting buffer, so repeated WriteFrame calls on the
// same stream are themselves a valid framing (the reader just needs to
// read headerSize bytes, learn bodyLen, then read that many more).
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f))
	return err
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	bodyLen := binary.BigEndian.Uint32(header[4:8])
	if bodyLen > MaxBodySize {
		return Frame{}, ErrBodyTooLarge
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{
		Type:        Type(header[0]),
		Instruction: Instruction(header[1]),
		Version:     binary.BigEndian.Uint16(header[2:4]),
		Body:        body,
	}, nil
}
