package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 1024
)

// Argon2id parameters, encoded into every digest so they can change later.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Upper bounds for parameters read back from a stored argon2id digest.
const (
	argonMaxMemory  = 1 << 20
	argonMaxTime    = 16
	argonMaxThreads = 16
	argonMaxKeyLen  = 64
)

// Algorithm selects how new digests are produced. Verification accepts
// every supported algorithm regardless of this setting.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Hasher produces salted one-way password digests.
type Hasher struct {
	algorithm  Algorithm
	bcryptCost int
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithAlgorithm switches the algorithm used for new digests.
func WithAlgorithm(a Algorithm) HasherOption {
	return func(h *Hasher) {
		if a == AlgorithmBcrypt || a == AlgorithmArgon2id {
			h.algorithm = a
		}
	}
}

// WithBcryptCost overrides the bcrypt work factor. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) HasherOption {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.bcryptCost = cost
		}
	}
}

// NewHasher returns a bcrypt hasher unless configured otherwise.
func NewHasher(opts ...HasherOption) Hasher {
	h := Hasher{algorithm: AlgorithmBcrypt, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// Hash returns a digest with a random salt embedded in it.
func (h Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password)
	}
	cost := h.bcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(digest), nil
}

// Verify compares password against digest in constant time. A malformed or
// empty digest never matches.
func (h Hasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	if strings.HasPrefix(digest, "$argon2id$") {
		return verifyArgon2id(password, digest)
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(password)) == nil
}

// bcryptInput pre-hashes the password so bcrypt sees every byte of it.
// bcrypt itself stops at 72 bytes.
func bcryptInput(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// HashPassword hashes plaintext password with the default hasher.
func HashPassword(password string) (string, error) {
	return NewHasher().Hash(password)
}

// VerifyPassword compares plaintext password with a stored digest.
func VerifyPassword(password, digest string) bool {
	return NewHasher().Verify(password, digest)
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

// hashArgon2id encodes in PHC format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(password, digest string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		memory, iterations uint32
		threads            uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}
	if memory > argonMaxMemory || iterations > argonMaxTime || threads > argonMaxThreads {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > argonMaxKeyLen {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want))) //nolint:gosec // length bounded above
	return subtle.ConstantTimeCompare(want, got) == 1
}
