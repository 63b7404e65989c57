// Package secure provides tamper-evident persistence for the policy file.
//
// Security model:
//  1. File permissions: 0600 (owner read/write only)
//  2. Atomic replacement: content lands via a temp file and rename
//  3. Integrity: an HMAC-SHA256 sidecar authenticates every write
//  4. Key hygiene: the sidecar key is derived from a master key with HKDF
package secure

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Cryptographic errors
var (
	ErrCorrupt             = errors.New("secure: file failed integrity check")
	ErrMissingSidecar      = errors.New("secure: integrity sidecar missing")
	ErrWeakKey             = errors.New("secure: key is too weak")
	ErrInvalidKeySize      = errors.New("secure: invalid key size")
	ErrInsufficientEntropy = errors.New("secure: insufficient entropy")
)

// KeySize is the master key size in bytes.
const KeySize = 32

// MinKeySize is the minimum allowed key size in bytes.
const MinKeySize = 16

// hmacLabel is the domain separation label for the sidecar key.
const hmacLabel = "policy-hmac"

// GenerateKey generates a cryptographically secure random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	n, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}
	if n != KeySize {
		return nil, fmt.Errorf("%w: only got %d of %d bytes", ErrInsufficientEntropy, n, KeySize)
	}
	return key, nil
}

// LoadOrCreateKey reads the master key from path, generating and
// persisting a fresh one on first use. The key file must not be
// readable by group or other.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := ReadChecked(path, 4096)
	if err == nil {
		if verr := ValidateKeyStrength(key); verr != nil {
			return nil, fmt.Errorf("key file %s: %w", path, verr)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := WriteAtomic(path, key, 0600); err != nil {
		Wipe(key)
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// DeriveKey derives a purpose-bound key from the master key using HKDF
// with SHA-256. The label keeps keys for different uses independent.
func DeriveKey(master []byte, label string) ([]byte, error) {
	if len(master) < MinKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes, minimum %d required",
			ErrWeakKey, len(master), MinKeySize)
	}

	info := []byte("notifyd:" + label)
	reader := hkdf.New(sha256.New, master, nil, info)

	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return derived, nil
}

// ValidateKeyStrength checks if a key meets minimum requirements.
func ValidateKeyStrength(key []byte) error {
	if len(key) < MinKeySize {
		return fmt.Errorf("%w: key is %d bytes, minimum %d required",
			ErrWeakKey, len(key), MinKeySize)
	}

	first := key[0]
	allSame := true
	for _, b := range key {
		if b != first {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("%w: key has no variation", ErrWeakKey)
	}

	return nil
}

// Wipe overwrites sensitive data with zeros.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte
// slices. Returns true if they are equal.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SidecarPath returns the path of the integrity sidecar for a file.
func SidecarPath(path string) string {
	return path + ".hmac"
}

// Seal writes data to path with its integrity sidecar. Both writes are
// atomic and serialized against other sealers through an advisory lock.
func Seal(path string, data []byte, master []byte) error {
	key, err := DeriveKey(master, hmacLabel)
	if err != nil {
		return err
	}
	defer Wipe(key)

	unlock, err := lockPath(path)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer unlock()

	if err := WriteAtomic(path, data, 0600); err != nil {
		return err
	}

	mac := computeMAC(key, data)
	sidecar := hex.EncodeToString(mac) + "\n"
	if err := WriteAtomic(SidecarPath(path), []byte(sidecar), 0600); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	return nil
}

// Open reads data from path and verifies it against the sidecar.
// Returns ErrMissingSidecar when the sidecar is absent and ErrCorrupt
// when the content does not authenticate.
func Open(path string, master []byte, maxSize int64) ([]byte, error) {
	key, err := DeriveKey(master, hmacLabel)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	unlock, err := lockPath(path)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	defer unlock()

	data, err := ReadChecked(path, maxSize)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSidecar, SidecarPath(path))
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	stored, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed sidecar for %s", ErrCorrupt, path)
	}

	mac := computeMAC(key, data)
	if !hmac.Equal(stored, mac) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, path)
	}

	return data, nil
}

// Verify checks path against its sidecar without returning the content.
func Verify(path string, master []byte, maxSize int64) error {
	data, err := Open(path, master, maxSize)
	Wipe(data)
	return err
}

func computeMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte("notifyd-policy-v1"))
	h.Write(data)
	return h.Sum(nil)
}

// lockPath acquires an advisory lock guarding path and its sidecar.
// The lock lives in a dedicated .lock file so the data file itself can
// be replaced by rename while locked.
func lockPath(path string) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unlockFile(f)
		f.Close()
	}, nil
}
