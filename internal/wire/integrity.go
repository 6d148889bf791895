package wire

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // MD5 is mandated by the RADIUS/RIP wire formats
	"errors"
	"fmt"
)

// DigestSize is the size in bytes of every authenticator produced here.
const DigestSize = md5.Size

// userPasswordBlockSize is the RADIUS User-Password cipher block size
// (RFC 2865 section 5.2).
const userPasswordBlockSize = 16

// maxUserPasswordLen is the longest password RFC 2865 permits in a
// User-Password attribute (8 blocks of 16).
const maxUserPasswordLen = 128

// keyed-digest input errors.
var (
	// ErrBadAuthenticator is returned when a RADIUS request authenticator
	// is not exactly 16 bytes.
	ErrBadAuthenticator = errors.New("wire: request authenticator must be 16 bytes")

	// ErrPasswordTooLong is returned when a password exceeds the RFC 2865
	// 128-byte limit.
	ErrPasswordTooLong = errors.New("wire: password exceeds 128 bytes")

	// ErrBadCiphertext is returned when User-Password ciphertext is empty
	// or not a multiple of the 16-byte block size.
	ErrBadCiphertext = errors.New("wire: ciphertext length must be a positive multiple of 16")
)

// MD5Sum returns the MD5 digest of data.
func MD5Sum(data []byte) []byte {
	sum := md5.Sum(data) //nolint:gosec // protocol-mandated
	return sum[:]
}

// HMACMD5 computes HMAC-MD5 over message with the given key, per RFC 2104.
// Keys longer than the 64-byte block are hashed down and shorter keys are
// zero-padded, both handled by crypto/hmac.
func HMACMD5(key, message []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// EncryptUserPassword obfuscates a password for a RADIUS User-Password
// attribute (RFC 2865 section 5.2). The password is zero-padded to a
// multiple of 16 bytes; block i is XORed with md5(secret || previous
// ciphertext block), where block 0 uses the request authenticator in place
// of a previous block.
//
// The output length is the padded length, between 16 and 128 bytes.
func EncryptUserPassword(secret, requestAuthenticator, password []byte) ([]byte, error) {
	if len(requestAuthenticator) != DigestSize {
		return nil, fmt.Errorf("%w: got %d", ErrBadAuthenticator, len(requestAuthenticator))
	}
	if len(password) > maxUserPasswordLen {
		return nil, fmt.Errorf("%w: got %d", ErrPasswordTooLong, len(password))
	}

	padded := padToBlock(password)
	out := make([]byte, len(padded))

	prev := requestAuthenticator
	for i := 0; i < len(padded); i += userPasswordBlockSize {
		key := MD5Sum(concat(secret, prev))
		for j := 0; j < userPasswordBlockSize; j++ {
			out[i+j] = padded[i+j] ^ key[j]
		}
		prev = out[i : i+userPasswordBlockSize]
	}

	return out, nil
}

// DecryptUserPassword reverses EncryptUserPassword. The result carries the
// original zero padding: a caller that needs the exact password must trim
// trailing zero bytes.
func DecryptUserPassword(secret, requestAuthenticator, ciphertext []byte) ([]byte, error) {
	if len(requestAuthenticator) != DigestSize {
		return nil, fmt.Errorf("%w: got %d", ErrBadAuthenticator, len(requestAuthenticator))
	}
	if len(ciphertext) == 0 || len(ciphertext)%userPasswordBlockSize != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadCiphertext, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))

	prev := requestAuthenticator
	for i := 0; i < len(ciphertext); i += userPasswordBlockSize {
		key := MD5Sum(concat(secret, prev))
		for j := 0; j < userPasswordBlockSize; j++ {
			out[i+j] = ciphertext[i+j] ^ key[j]
		}
		prev = ciphertext[i : i+userPasswordBlockSize]
	}

	return out, nil
}

// KeyedMD5RFC2082 computes the keyed-MD5 authenticator used by RIPv2 route
// authentication (RFC 2082 section 4). message must be the complete packet
// image through the authentication trailer marker; the key id and sequence
// number are hashed as part of the authentication header the caller encoded
// into message, exactly as the RFC specifies. The key is zero-padded or
// truncated to the 16-byte authentication data length and appended in place
// of the digest before hashing.
func KeyedMD5RFC2082(key, message []byte) []byte {
	padded := make([]byte, DigestSize)
	copy(padded, key)
	return MD5Sum(concat(message, padded))
}

// padToBlock zero-pads b up to the next multiple of the User-Password block
// size. An empty password still occupies one block.
func padToBlock(b []byte) []byte {
	n := len(b)
	blocks := n / userPasswordBlockSize
	if n%userPasswordBlockSize != 0 || blocks == 0 {
		blocks++
	}
	padded := make([]byte, blocks*userPasswordBlockSize)
	copy(padded, b)
	return padded
}

// concat returns a || b in fresh memory, leaving both inputs untouched.
func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
