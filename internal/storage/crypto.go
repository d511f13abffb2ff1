package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// Payload encryption formats used by the upstream file server. GCM is the
// current format, CBC the legacy one; very old objects carry no magic at all.
const (
	formatGCM  = "GCM3NCR0"
	formatCBC  = "3NCR0PTD"
	formatNone = "none"
)

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
}

// decryptPayload decrypts data in any of the supported at-rest formats,
// detected by magic number. Returns the plaintext and the detected format.
func decryptPayload(data []byte, password string) ([]byte, string, error) {
	if len(data) < 8 {
		return nil, "", fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}

	switch string(data[:8]) {
	case formatGCM:
		plain, err := decryptGCM(data, password)
		return plain, formatGCM, err
	case formatCBC:
		plain, err := decryptCBC(data, password)
		return plain, formatCBC, err
	default:
		// Very old objects have no magic number and use the GCM layout
		// without a header.
		plain, err := decryptBareGCM(data, password)
		return plain, "legacy_gcm", err
	}
}

// decryptGCM handles: magic(8) + salt(16) + nonce(12) + ciphertext||tag(16).
func decryptGCM(data []byte, password string) ([]byte, error) {
	if len(data) < 8+16+12+16 {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}

	salt := data[8:24]
	nonce := data[24:36]
	sealed := data[36:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

// decryptCBC handles the legacy layout:
// magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext.
func decryptCBC(data []byte, password string) ([]byte, error) {
	if len(data) < 8+32+8+16+16 {
		return nil, fmt.Errorf("legacy CBC data too short: %d bytes", len(data))
	}

	storedHash := data[8:40]
	length := binary.BigEndian.Uint64(data[40:48])
	encrypted := data[48:]

	if len(encrypted) != int(length) {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", length, len(encrypted))
	}
	calculated := sha256.Sum256(encrypted)
	if !bytes.Equal(storedHash, calculated[:]) {
		return nil, fmt.Errorf("hash verification failed - data corrupted")
	}

	salt := encrypted[:16]
	iv := encrypted[16:32]
	ciphertext := encrypted[32:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of block size")
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := stripPKCS7(plain)
	if err != nil {
		// Oldest CBC objects were written without padding.
		log.Warn().Err(err).Msg("PKCS7 unpadding failed, using raw data")
		return plain, nil
	}
	return unpadded, nil
}

// decryptBareGCM handles: salt(16) + nonce(12) + ciphertext||tag.
func decryptBareGCM(data []byte, password string) ([]byte, error) {
	if len(data) < 28 {
		return nil, fmt.Errorf("legacy GCM data too short: %d bytes", len(data))
	}

	salt := data[:16]
	nonce := data[16:28]
	sealed := data[28:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("legacy GCM decryption failed: %w", err)
	}
	return plain, nil
}

// encryptCBC produces the legacy CBC layout the file server accepts for
// uploads: magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext.
func encryptCBC(data []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := applyPKCS7(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	encrypted := make([]byte, 0, 16+16+len(ciphertext))
	encrypted = append(encrypted, salt...)
	encrypted = append(encrypted, iv...)
	encrypted = append(encrypted, ciphertext...)

	hash := sha256.Sum256(encrypted)
	lengthBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(lengthBytes, uint64(len(encrypted)))

	out := make([]byte, 0, 8+32+8+len(encrypted))
	out = append(out, []byte(formatCBC)...)
	out = append(out, hash[:]...)
	out = append(out, lengthBytes...)
	out = append(out, encrypted...)
	return out, nil
}

func applyPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding at position %d", i)
		}
	}
	return data[:len(data)-padding], nil
}
