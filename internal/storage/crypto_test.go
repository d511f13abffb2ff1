package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

// sealGCM builds the current upload format the way the file server writes it:
// magic(8) + salt(16) + nonce(12) + ciphertext||tag.
func sealGCM(t *testing.T, plain []byte, password string) []byte {
	t.Helper()
	salt := bytes.Repeat([]byte{0x01}, 16)
	nonce := bytes.Repeat([]byte{0x02}, 12)
	block, err := aes.NewCipher(deriveKey(password, salt))
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	out := append([]byte(formatGCM), salt...)
	out = append(out, nonce...)
	return append(out, gcm.Seal(nil, nonce, plain, nil)...)
}

func TestDecryptPayloadGCM(t *testing.T) {
	plain := []byte("per-page bitmaps, ordered")
	data := sealGCM(t, plain, "pw")

	got, format, err := decryptPayload(data, "pw")
	require.NoError(t, err)
	require.Equal(t, formatGCM, format)
	require.Equal(t, plain, got)
}

func TestDecryptPayloadGCMWrongPassword(t *testing.T) {
	data := sealGCM(t, []byte("secret"), "pw")
	_, _, err := decryptPayload(data, "other")
	require.ErrorContains(t, err, "GCM decryption failed")
}

func TestDecryptPayloadBareGCM(t *testing.T) {
	// Oldest objects carry the GCM layout without the magic header.
	data := sealGCM(t, []byte("ancient object"), "pw")[8:]

	got, format, err := decryptPayload(data, "pw")
	require.NoError(t, err)
	require.Equal(t, "legacy_gcm", format)
	require.Equal(t, []byte("ancient object"), got)
}

func TestCBCRoundTrip(t *testing.T) {
	plain := []byte("legacy but still in the wild")
	data, err := encryptCBC(plain, "pw")
	require.NoError(t, err)
	require.Equal(t, formatCBC, string(data[:8]))

	got, format, err := decryptPayload(data, "pw")
	require.NoError(t, err)
	require.Equal(t, formatCBC, format)
	require.Equal(t, plain, got)
}

func TestCBCWrongPasswordYieldsGarbage(t *testing.T) {
	// CBC has no authentication; a wrong password decrypts to noise rather
	// than an error, matching what the legacy server tolerates.
	plain := []byte("0123456789abcdef0123456789abcdef")
	data, err := encryptCBC(plain, "pw")
	require.NoError(t, err)

	got, _, err := decryptPayload(data, "other")
	require.NoError(t, err)
	require.NotEqual(t, plain, got)
}

func TestCBCDetectsCorruption(t *testing.T) {
	data, err := encryptCBC([]byte("payload"), "pw")
	require.NoError(t, err)

	data[len(data)-1] ^= 0xff
	_, _, err = decryptPayload(data, "pw")
	require.ErrorContains(t, err, "hash verification failed")
}

func TestCBCDetectsTruncation(t *testing.T) {
	data, err := encryptCBC([]byte("a payload long enough to truncate safely"), "pw")
	require.NoError(t, err)

	_, _, err = decryptPayload(data[:len(data)-aes.BlockSize], "pw")
	require.ErrorContains(t, err, "length mismatch")
}

func TestDecryptPayloadTooShort(t *testing.T) {
	_, _, err := decryptPayload([]byte("abc"), "pw")
	require.ErrorContains(t, err, "encrypted data too short")
}

func TestPKCS7(t *testing.T) {
	// A block-aligned input gains a full block of padding.
	padded := applyPKCS7(bytes.Repeat([]byte{0xaa}, 16), aes.BlockSize)
	require.Len(t, padded, 32)
	require.Equal(t, byte(16), padded[31])

	got, err := stripPKCS7(padded)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xaa}, 16), got)

	_, err = stripPKCS7([]byte{0x05, 0x05, 0x03})
	require.ErrorContains(t, err, "invalid padding")

	_, err = stripPKCS7([]byte{0x00})
	require.ErrorContains(t, err, "invalid padding length")

	_, err = stripPKCS7(nil)
	require.ErrorContains(t, err, "empty data")
}
