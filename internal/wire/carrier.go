// Package wire implements the descriptor broker's fixed carrier record
// (spec.md §4.1, §6: "Carrier messages are fixed 12-24 byte records").
// Descriptors themselves never appear in this encoding; they travel as
// SOL_SOCKET/SCM_RIGHTS ancillary data on the same socket write, which is
// internal/fdproxy's concern, not this package's.
package wire

import (
	"encoding/binary"
	"strconv"
)

// Magic identifies a well-formed carrier record. Any record that fails
// to start with this value is a protocol violation per spec.md §4.1's
// failure semantics ("bad magic... is fatal").
const Magic uint32 = 0x4d504649 // "MPFI"

// MsgType enumerates the descriptor broker's wire message types.
type MsgType uint32

const (
	NewKey MsgType = iota + 1
	AddKey
	AddKeyAck
	ReqKey
	RspKeyFound
	RspKey
	RspNoKey
	InvalKey
)

func (t MsgType) String() string {
	switch t {
	case NewKey:
		return "NEW_KEY"
	case AddKey:
		return "ADD_KEY"
	case AddKeyAck:
		return "ADD_KEY_ACK"
	case ReqKey:
		return "REQ_KEY"
	case RspKeyFound:
		return "RSP_KEYFOUND"
	case RspKey:
		return "RSP_KEY"
	case RspNoKey:
		return "RSP_NOKEY"
	case InvalKey:
		return "INVAL_KEY"
	default:
		return "UNKNOWN"
	}
}

// Key is the descriptor key of spec.md §3: a pair (owner-identity,
// local-id). Two keys are equal iff both fields match.
type Key struct {
	Owner int32
	Local int64
}

// String renders the key as the decimal "owner/id" the broker's
// open-addressing directory hashes on (spec.md §4.1 "Directory").
func (k Key) String() string {
	return keyString(k)
}

// CarrierSize is the on-wire size of Carrier: magic(4) + type(4) +
// owner(4) + local(8) = 20 bytes, inside the 12-24 byte budget spec.md
// §6 allows.
const CarrierSize = 20

// Carrier is one fixed broker protocol record.
type Carrier struct {
	Magic uint32
	Type  MsgType
	Key   Key
}

// Marshal encodes c using the manual binary.LittleEndian layout the rest
// of the wire codecs in this project use for C-compatible records.
func (c Carrier) Marshal() []byte {
	buf := make([]byte, CarrierSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Type))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.Key.Owner))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(c.Key.Local))
	return buf
}

// ErrShortCarrier indicates a record shorter than CarrierSize, a
// size-mismatch failure per spec.md §4.1's "size mismatch" case.
var ErrShortCarrier = carrierError("wire: carrier record too short")

// ErrBadMagic indicates a record whose magic field did not match Magic.
var ErrBadMagic = carrierError("wire: bad carrier magic")

type carrierError string

func (e carrierError) Error() string { return string(e) }

// Unmarshal decodes buf into a Carrier, validating magic and length.
func Unmarshal(buf []byte) (Carrier, error) {
	if len(buf) < CarrierSize {
		return Carrier{}, ErrShortCarrier
	}
	var c Carrier
	c.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if c.Magic != Magic {
		return Carrier{}, ErrBadMagic
	}
	c.Type = MsgType(binary.LittleEndian.Uint32(buf[4:8]))
	c.Key.Owner = int32(binary.LittleEndian.Uint32(buf[8:12]))
	c.Key.Local = int64(binary.LittleEndian.Uint64(buf[12:20]))
	return c, nil
}

func keyString(k Key) string {
	return strconv.FormatInt(int64(k.Owner), 10) + "/" + strconv.FormatInt(k.Local, 10)
}
