package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Profile selects the framing scheme used on a byte stream.
//
// Design decision: We use an enum parameter on two shared functions rather
// than one codec type per scheme because both schemes reduce to "declared
// length up front, payload follows" and share all of their reassembly and
// bounds-checking logic. Protocol modules pick a profile; they never
// reimplement framing.
type Profile int

const (
	// ProfileRecordMarking is ONC-RPC record marking (RFC 5531 section 11):
	// each fragment is preceded by a big-endian 32-bit word whose top bit
	// flags the final fragment and whose low 31 bits carry the fragment
	// length. A record may span multiple fragments; ReadFrame reassembles
	// them into one payload.
	ProfileRecordMarking Profile = iota + 1

	// ProfileZabbix is the Zabbix agent framing: the 4-byte magic "ZBXD",
	// a one-byte flags field, and a little-endian 64-bit payload length.
	ProfileZabbix
)

// zabbixMagic is the fixed tag opening every Zabbix frame header.
var zabbixMagic = [4]byte{'Z', 'B', 'X', 'D'}

// zabbixFlagsPlain marks an uncompressed Zabbix payload.
const zabbixFlagsPlain = 0x01

// maxRecordFragment is the largest length encodable in a record-marking
// header: 31 bits.
const maxRecordFragment = 1<<31 - 1

// Frame errors. ReadFrame returns these (wrapped with context) for hostile
// or malformed peer input; they are never panics.
var (
	// ErrFrameTooLarge is returned when a peer declares a payload length
	// above the caller's cap. The declared bytes are not read.
	ErrFrameTooLarge = errors.New("wire: declared frame length exceeds limit")

	// ErrBadFrameMagic is returned when a Zabbix header does not start
	// with the ZBXD tag.
	ErrBadFrameMagic = errors.New("wire: bad frame magic")

	// ErrBadFragment is returned when a record-marking peer sends a
	// zero-length continuation fragment, which would otherwise let it
	// hold the reader open indefinitely.
	ErrBadFragment = errors.New("wire: bad record fragment")

	// ErrPayloadTooLarge is returned by WriteFrame when the payload cannot
	// be represented in the profile's length field.
	ErrPayloadTooLarge = errors.New("wire: payload too large for framing profile")
)

// WriteFrame writes payload to w under the given framing profile.
// Record-marking payloads are written as a single final fragment.
//
// An unknown profile is a caller programming error and panics; every other
// failure is returned.
func WriteFrame(w io.Writer, payload []byte, profile Profile) error {
	switch profile {
	case ProfileRecordMarking:
		return writeRecordMarking(w, payload)
	case ProfileZabbix:
		return writeZabbix(w, payload)
	default:
		panic(fmt.Sprintf("wire: unknown framing profile %d", profile))
	}
}

// ReadFrame reads one complete payload from r under the given framing
// profile, reassembling across partial reads and (for record marking)
// across fragments. A declared length exceeding maxLen fails with
// ErrFrameTooLarge before any payload byte is read or allocated.
//
// An unknown profile is a caller programming error and panics; every other
// failure (truncation, bad magic, oversize declaration) is returned.
func ReadFrame(r io.Reader, profile Profile, maxLen int64) ([]byte, error) {
	if maxLen < 0 {
		maxLen = 0
	}
	switch profile {
	case ProfileRecordMarking:
		return readRecordMarking(r, maxLen)
	case ProfileZabbix:
		return readZabbix(r, maxLen)
	default:
		panic(fmt.Sprintf("wire: unknown framing profile %d", profile))
	}
}

func writeRecordMarking(w io.Writer, payload []byte) error {
	if len(payload) > maxRecordFragment {
		return fmt.Errorf("%w: %d bytes in a 31-bit length field", ErrPayloadTooLarge, len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload))|0x80000000)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write record header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write record payload: %w", err)
	}
	return nil
}

func readRecordMarking(r io.Reader, maxLen int64) ([]byte, error) {
	var payload []byte

	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, fmt.Errorf("wire: read record header: %w", err)
		}

		word := binary.BigEndian.Uint32(header[:])
		last := word&0x80000000 != 0
		fragLen := int64(word & 0x7fffffff)

		// A zero-length continuation fragment carries no data and would
		// let a peer spin the reader forever without growing the record.
		if fragLen == 0 && !last {
			return nil, fmt.Errorf("%w: zero-length continuation fragment", ErrBadFragment)
		}

		// The cap applies to the reassembled record, not per fragment;
		// otherwise a peer could stream unlimited small fragments.
		if int64(len(payload))+fragLen > maxLen {
			return nil, fmt.Errorf("%w: fragment of %d bytes pushes record past %d",
				ErrFrameTooLarge, fragLen, maxLen)
		}

		fragment := make([]byte, fragLen)
		if _, err := io.ReadFull(r, fragment); err != nil {
			return nil, fmt.Errorf("wire: read record fragment: %w", err)
		}
		payload = append(payload, fragment...)

		if last {
			return payload, nil
		}
	}
}

func writeZabbix(w io.Writer, payload []byte) error {
	header := make([]byte, 0, 13)
	header = append(header, zabbixMagic[:]...)
	header = append(header, zabbixFlagsPlain)
	header = binary.LittleEndian.AppendUint64(header, uint64(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write zabbix header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write zabbix payload: %w", err)
	}
	return nil
}

func readZabbix(r io.Reader, maxLen int64) ([]byte, error) {
	var header [13]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: read zabbix header: %w", err)
	}

	if [4]byte(header[:4]) != zabbixMagic {
		return nil, fmt.Errorf("%w: %q", ErrBadFrameMagic, header[:4])
	}

	declared := binary.LittleEndian.Uint64(header[5:13])
	if declared > uint64(maxLen) {
		return nil, fmt.Errorf("%w: peer declared %d bytes, limit %d",
			ErrFrameTooLarge, declared, maxLen)
	}

	payload := make([]byte, declared)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read zabbix payload: %w", err)
	}
	return payload, nil
}
