package wire

import (
	"encoding/binary"
	"fmt"
)

// BER universal tags supported by the codec. SNMP PDU types (GetRequest,
// GetResponse, ...) arrive as context-class constructed tags and decode
// through the same SEQUENCE path because their constructed bit is set.
const (
	TagInteger     byte = 0x02
	TagOctetString byte = 0x04
	TagNull        byte = 0x05
	TagOID         byte = 0x06
	TagSequence    byte = 0x30
)

// berConstructed is the constructed bit in a BER identifier octet.
const berConstructed = 0x20

// berMaxDepth bounds SEQUENCE nesting so a hostile peer cannot drive the
// recursive decoder arbitrarily deep.
const berMaxDepth = 32

// BERValue is one node of a BER TLV tree. Exactly one of the payload fields
// is meaningful, selected by Tag (Children for any constructed tag). Values
// are never mutated after construction; Encode and Decode both treat them
// as immutable.
type BERValue struct {
	// Tag is the full identifier octet, class and constructed bit included.
	Tag byte

	// Int carries the value of an INTEGER.
	Int int64

	// Bytes carries the contents of an OCTET STRING.
	Bytes []byte

	// OID carries the arcs of an OBJECT IDENTIFIER.
	OID []uint32

	// Children carries the elements of a SEQUENCE or other constructed type.
	Children []BERValue
}

// BERInteger builds an INTEGER value.
func BERInteger(v int64) BERValue { return BERValue{Tag: TagInteger, Int: v} }

// BEROctetString builds an OCTET STRING value. The byte slice is used as-is;
// callers must not mutate it afterwards.
func BEROctetString(b []byte) BERValue { return BERValue{Tag: TagOctetString, Bytes: b} }

// BERNull builds a NULL value.
func BERNull() BERValue { return BERValue{Tag: TagNull} }

// BEROID builds an OBJECT IDENTIFIER from its arcs.
func BEROID(arcs ...uint32) BERValue { return BERValue{Tag: TagOID, OID: arcs} }

// BERSequence builds a SEQUENCE from its elements.
func BERSequence(children ...BERValue) BERValue {
	return BERValue{Tag: TagSequence, Children: children}
}

// BERConstructed builds a constructed value under an arbitrary tag. SNMP
// uses this for its context-class PDU tags (0xa0 GetRequest and friends).
func BERConstructed(tag byte, children ...BERValue) BERValue {
	return BERValue{Tag: tag | berConstructed, Children: children}
}

// BERParseError reports why a byte sequence failed to decode. It is the
// only error type DecodeBER returns: remote bytes can be malformed in many
// ways, and none of them may surface as a panic.
type BERParseError struct {
	// Offset is the byte position at which decoding failed.
	Offset int

	// Msg describes the failure.
	Msg string
}

// Error implements the error interface.
func (e *BERParseError) Error() string {
	return fmt.Sprintf("wire: ber parse error at offset %d: %s", e.Offset, e.Msg)
}

// berErr builds a positioned parse error.
func berErr(offset int, format string, args ...any) *BERParseError {
	return &BERParseError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// EncodeBER serializes a value tree to BER bytes. INTEGER contents use the
// minimal two's-complement length; lengths use the short form up to 127
// bytes and the long form beyond.
func EncodeBER(v BERValue) ([]byte, error) {
	content, err := encodeContent(v)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 2+len(content))
	out = append(out, v.Tag)
	out = appendBERLength(out, len(content))
	return append(out, content...), nil
}

func encodeContent(v BERValue) ([]byte, error) {
	if v.Tag&berConstructed != 0 {
		var content []byte
		for _, child := range v.Children {
			enc, err := EncodeBER(child)
			if err != nil {
				return nil, err
			}
			content = append(content, enc...)
		}
		return content, nil
	}

	switch v.Tag {
	case TagInteger:
		return encodeBERInt(v.Int), nil
	case TagOctetString:
		return v.Bytes, nil
	case TagNull:
		return nil, nil
	case TagOID:
		return encodeBEROID(v.OID)
	default:
		return nil, fmt.Errorf("wire: cannot encode unsupported primitive tag 0x%02x", v.Tag)
	}
}

// appendBERLength appends a definite length in short or long form.
func appendBERLength(out []byte, n int) []byte {
	if n <= 0x7f {
		return append(out, byte(n))
	}

	var lenBytes []byte
	for v := uint64(n); v > 0; v >>= 8 {
		lenBytes = append([]byte{byte(v)}, lenBytes...)
	}
	out = append(out, 0x80|byte(len(lenBytes)))
	return append(out, lenBytes...)
}

// encodeBERInt produces the minimal two's-complement representation.
// Zero encodes as a single 0x00 byte.
func encodeBERInt(v int64) []byte {
	// Build big-endian bytes, then strip redundant leading octets: a 0x00
	// followed by a clear sign bit, or a 0xff followed by a set sign bit.
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))

	start := 0
	for start < 7 {
		if buf[start] == 0x00 && buf[start+1]&0x80 == 0 {
			start++
			continue
		}
		if buf[start] == 0xff && buf[start+1]&0x80 != 0 {
			start++
			continue
		}
		break
	}
	return buf[start:]
}

// encodeBEROID packs arcs per X.690: the first two arcs combine into a
// single 40*X+Y byte, subsequent arcs are base-128 varints with the high
// bit as a continuation flag.
func encodeBEROID(arcs []uint32) ([]byte, error) {
	if len(arcs) < 2 {
		return nil, fmt.Errorf("wire: oid needs at least two arcs, got %d", len(arcs))
	}
	if arcs[0] > 2 || (arcs[0] < 2 && arcs[1] > 39) {
		return nil, fmt.Errorf("wire: invalid leading oid arcs %d.%d", arcs[0], arcs[1])
	}

	out := []byte{byte(arcs[0]*40 + arcs[1])}
	for _, arc := range arcs[2:] {
		out = append(out, encodeBase128(arc)...)
	}
	return out, nil
}

// encodeBase128 produces the big-endian base-128 encoding of arc with
// continuation bits on every byte but the last.
func encodeBase128(arc uint32) []byte {
	if arc == 0 {
		return []byte{0x00}
	}

	var tmp [5]byte
	i := len(tmp)
	last := true
	for arc > 0 {
		i--
		b := byte(arc & 0x7f)
		if !last {
			b |= 0x80
		}
		tmp[i] = b
		last = false
		arc >>= 7
	}
	return tmp[i:]
}

// DecodeBER parses one complete BER value from data. Trailing bytes after
// the value are an error: every supported protocol frames its PDUs exactly.
// All failures return a *BERParseError; the function never panics on any
// input.
func DecodeBER(data []byte) (BERValue, error) {
	v, rest, err := decodeBER(data, 0, 0)
	if err != nil {
		return BERValue{}, err
	}
	if len(rest) != 0 {
		return BERValue{}, berErr(len(data)-len(rest), "%d trailing bytes after value", len(rest))
	}
	return v, nil
}

// decodeBER parses one TLV starting at data, returning the value and the
// unconsumed remainder. base tracks the absolute offset for error messages.
func decodeBER(data []byte, base, depth int) (BERValue, []byte, error) {
	if depth > berMaxDepth {
		return BERValue{}, nil, berErr(base, "nesting deeper than %d levels", berMaxDepth)
	}
	if len(data) < 2 {
		return BERValue{}, nil, berErr(base, "truncated header: %d bytes", len(data))
	}

	tag := data[0]
	length, headerLen, err := decodeBERLength(data[1:], base+1)
	if err != nil {
		return BERValue{}, nil, err
	}
	headerLen++ // include the tag octet

	if length > len(data)-headerLen {
		return BERValue{}, nil, berErr(base+headerLen,
			"declared length %d exceeds remaining %d bytes", length, len(data)-headerLen)
	}

	content := data[headerLen : headerLen+length]
	rest := data[headerLen+length:]

	if tag&berConstructed != 0 {
		children := make([]BERValue, 0, 2)
		childData := content
		childBase := base + headerLen
		for len(childData) > 0 {
			child, remaining, err := decodeBER(childData, childBase, depth+1)
			if err != nil {
				return BERValue{}, nil, err
			}
			children = append(children, child)
			childBase += len(childData) - len(remaining)
			childData = remaining
		}
		return BERValue{Tag: tag, Children: children}, rest, nil
	}

	switch tag {
	case TagInteger:
		n, err := decodeBERInt(content, base+headerLen)
		if err != nil {
			return BERValue{}, nil, err
		}
		return BERValue{Tag: tag, Int: n}, rest, nil

	case TagOctetString:
		// Copy so the decoded tree does not alias the caller's buffer.
		b := make([]byte, len(content))
		copy(b, content)
		return BERValue{Tag: tag, Bytes: b}, rest, nil

	case TagNull:
		if length != 0 {
			return BERValue{}, nil, berErr(base+headerLen, "null with %d content bytes", length)
		}
		return BERValue{Tag: tag}, rest, nil

	case TagOID:
		arcs, err := decodeBEROID(content, base+headerLen)
		if err != nil {
			return BERValue{}, nil, err
		}
		return BERValue{Tag: tag, OID: arcs}, rest, nil

	default:
		return BERValue{}, nil, berErr(base, "unknown primitive tag 0x%02x", tag)
	}
}

// decodeBERLength parses a definite length starting at data[0], returning
// the length and the number of bytes consumed including the first.
func decodeBERLength(data []byte, base int) (int, int, error) {
	first := data[0]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 {
		return 0, 0, berErr(base, "indefinite length not supported")
	}
	// Anything beyond 4 length octets declares gigabytes; no supported
	// protocol sends that, so treat it as hostile.
	if numBytes > 4 {
		return 0, 0, berErr(base, "implausible length-of-length %d", numBytes)
	}
	if len(data) < 1+numBytes {
		return 0, 0, berErr(base, "truncated long-form length")
	}

	var length int
	for _, b := range data[1 : 1+numBytes] {
		length = length<<8 | int(b)
	}
	return length, 1 + numBytes, nil
}

// decodeBERInt reads a two's-complement integer of up to 8 bytes.
func decodeBERInt(content []byte, base int) (int64, error) {
	if len(content) == 0 {
		return 0, berErr(base, "empty integer")
	}
	if len(content) > 8 {
		return 0, berErr(base, "integer wider than 64 bits: %d bytes", len(content))
	}

	// Sign-extend from the first content byte.
	var n int64
	if content[0]&0x80 != 0 {
		n = -1
	}
	for _, b := range content {
		n = n<<8 | int64(b)
	}
	return n, nil
}

// decodeBEROID unpacks OID arcs, reversing encodeBEROID.
func decodeBEROID(content []byte, base int) ([]uint32, error) {
	if len(content) == 0 {
		return nil, berErr(base, "empty oid")
	}

	first := content[0]
	arcs := make([]uint32, 0, 8)
	switch {
	case first < 40:
		arcs = append(arcs, 0, uint32(first))
	case first < 80:
		arcs = append(arcs, 1, uint32(first)-40)
	default:
		arcs = append(arcs, 2, uint32(first)-80)
	}

	var arc uint64
	var inArc bool
	for i, b := range content[1:] {
		arc = arc<<7 | uint64(b&0x7f)
		inArc = true
		if arc > 1<<32-1 {
			return nil, berErr(base+1+i, "oid arc overflows 32 bits")
		}
		if b&0x80 == 0 {
			arcs = append(arcs, uint32(arc))
			arc = 0
			inArc = false
		}
	}
	if inArc {
		return nil, berErr(base+len(content), "truncated oid arc")
	}

	return arcs, nil
}
