// Package crypto implements server-side password hashing, verification and
// session key derivation.
package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Supported password schemes.
const (
	SchemeArgon2id = "argon2id"
	SchemeMD5      = "md5"
)

const phcPrefix = "$argon2id$"

// Hasher produces password verifiers for new accounts.
type Hasher interface {
	Hash(password string) (string, error)
}

// NewHasher returns the hasher for a configured scheme.
func NewHasher(scheme string) (Hasher, error) {
	switch scheme {
	case "", SchemeArgon2id:
		return Argon2id{}, nil
	case SchemeMD5:
		return LegacyMD5{}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Argon2id hashes with a per-account random salt into a PHC string.
type Argon2id struct{}

// Hash returns $argon2id$v=19$m=..,t=..,p=..$salt$hash.
func (Argon2id) Hash(password string) (string, error) {
	salt, err := RandBytes(argonSaltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// LegacyMD5 produces the unsalted hex digest used by existing credential files.
type LegacyMD5 struct{}

// Hash returns lowercase hex MD5 of the password.
func (LegacyMD5) Hash(password string) (string, error) {
	return md5Hex(password), nil
}

func md5Hex(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks password against a stored verifier of either scheme.
// A malformed argon2id verifier is an error; a mismatch is (false, nil).
func VerifyPassword(password, stored string) (bool, error) {
	if !strings.HasPrefix(stored, phcPrefix) {
		got := md5Hex(password)
		return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1, nil
	}

	var (
		version      int
		memory, iter uint32
		threads      uint8
	)
	parts := strings.Split(stored, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid argon2id verifier")
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New("unsupported argon2 version")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iter, &threads); err != nil {
		return false, fmt.Errorf("invalid argon2 params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("invalid salt encoding: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errors.New("invalid hash encoding")
	}

	got := argon2.IDKey([]byte(password), salt, iter, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
