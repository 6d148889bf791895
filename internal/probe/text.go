package probe

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// decodeLatin1 converts legacy protocol bytes to a UTF-8 string. The
// inetd-era protocols predate UTF-8; ISO 8859-1 maps every byte to a valid
// rune, so arbitrary banners survive into JSON without replacement runes.
func decodeLatin1(b []byte) string {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// The ISO 8859-1 decoder is total over bytes; this path is
		// unreachable, but we degrade to a lossy conversion anyway.
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(decoded)
}

// randBytes fills a fresh buffer of n bytes from crypto/rand. Probe nonces
// and transaction IDs must be unpredictable so responses cannot be spoofed
// by off-path hosts.
func randBytes(n int) []byte {
	b := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b)
	return b
}

// randUint32 returns an unpredictable request identifier.
func randUint32() uint32 {
	return binary.BigEndian.Uint32(randBytes(4))
}

// randUint64 returns an unpredictable 64-bit nonce.
func randUint64() uint64 {
	return binary.BigEndian.Uint64(randBytes(8))
}
