package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordMismatch = errors.New("password does not match")
	ErrInvalidHash      = errors.New("invalid hash format")
)

// Params are the Argon2id cost parameters baked into every new hash.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultParams follows the OWASP minimum recommendation for argon2id.
var DefaultParams = Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// Hasher produces and checks PHC-format Argon2id password hashes. Legacy
// bcrypt hashes are accepted by Verify so they can be upgraded on login.
type Hasher struct {
	Params Params
	Pepper string
}

// NewHasher returns a Hasher using DefaultParams and the given pepper.
func NewHasher(pepper string) *Hasher {
	return &Hasher{Params: DefaultParams, Pepper: pepper}
}

// Hash generates a PHC-format Argon2id hash string including salt and parameters.
func (h *Hasher) Hash(password string) (string, error) {
	p := h.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password+h.Pepper), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares a plaintext password against a stored hash. It returns
// ErrPasswordMismatch when the password is wrong and ErrInvalidHash when the
// stored value cannot be parsed.
func (h *Hasher) Verify(password, encoded string) error {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return ErrPasswordMismatch
		default:
			return fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
	}

	phc, err := parseArgon2id(encoded)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(password+h.Pepper),
		phc.salt,
		phc.params.Iterations,
		phc.params.Memory,
		phc.params.Parallelism,
		phc.params.KeyLength,
	)

	if subtle.ConstantTimeCompare(computed, phc.key) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

// NeedsRehash reports whether encoded was produced with anything other than
// the hasher's current algorithm and parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}

	phc, err := parseArgon2id(encoded)
	if err != nil {
		return true
	}

	return phc.params != h.Params
}

type argon2idHash struct {
	params Params
	salt   []byte
	key    []byte
}

// parseArgon2id splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash into its parts.
func parseArgon2id(encoded string) (argon2idHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return argon2idHash{}, fmt.Errorf("%w: expected 6 parts", ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return argon2idHash{}, fmt.Errorf("%w: not argon2id", ErrInvalidHash)
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return argon2idHash{}, fmt.Errorf("%w: wrong version", ErrInvalidHash)
	}

	var out argon2idHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&out.params.Memory, &out.params.Iterations, &out.params.Parallelism); err != nil {
		return argon2idHash{}, fmt.Errorf("%w: parameters: %v", ErrInvalidHash, err)
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argon2idHash{}, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return argon2idHash{}, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	if len(out.salt) == 0 || len(out.key) == 0 {
		return argon2idHash{}, fmt.Errorf("%w: empty salt or key", ErrInvalidHash)
	}

	out.params.SaltLength = uint32(len(out.salt)) // #nosec G115 - decoded from a short string
	out.params.KeyLength = uint32(len(out.key))   // #nosec G115 - decoded from a short string

	return out, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// GeneratePassword returns a random 16 character password that contains at
// least one lowercase letter, uppercase letter, digit and symbol.
func GeneratePassword() (string, error) {
	const (
		lower   = "abcdefghijklmnopqrstuvwxyz"
		upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		digits  = "0123456789"
		symbols = "!@#$%^&*-_=+?"
		length  = 16
	)
	all := lower + upper + digits + symbols

	password := make([]byte, 0, length)
	for _, set := range []string{lower, upper, digits, symbols} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}
	for len(password) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	// Fisher-Yates so the guaranteed classes are not always up front.
	for i := len(password) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate random password: %w", err)
		}
		j := n.Int64()
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random password: %w", err)
	}
	return set[n.Int64()], nil
}
