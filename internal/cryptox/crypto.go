// Package cryptox implements the password-based authenticated encryption used
// for HDS containers: PBKDF2 key derivation, AES-256-GCM, and an independent
// HMAC-SHA256 signature over the ciphertext and its metadata.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor for both derived keys.
	Iterations = 150_000
	KeyLength  = 32
	SaltLength = 16
	IVLength   = 12
	TagLength  = 16

	// Version tags every container produced by Encrypt.
	Version = "2"

	// DefaultFutureTolerance bounds how far in the future a container
	// timestamp may lie before Decrypt rejects it.
	DefaultFutureTolerance = 5 * time.Minute

	signDomain = "osteokeeper/hds/sign/v2"
)

// ErrDecryption is the only error Decrypt returns. Wrong password, corrupted
// bytes, bad signature, bad tag and unknown version are indistinguishable.
var ErrDecryption = errors.New("decryption failed")

// Container is the persisted unit of one encryption call.
type Container struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
	AuthTag    []byte `json:"authTag"`
	Signature  []byte `json:"signature"`
	Timestamp  int64  `json:"timestamp"`
	Version    string `json:"version"`
}

// DeriveKey derives the 256-bit encryption key for (password, salt).
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, Iterations, KeyLength, sha256.New)
}

// DeriveSignKey derives the HMAC key. The salt is domain-separated so the
// result never equals the encryption key for the same inputs.
func DeriveSignKey(password, salt []byte) []byte {
	sep := make([]byte, 0, len(salt)+len(signDomain))
	sep = append(sep, salt...)
	sep = append(sep, signDomain...)
	return pbkdf2.Key(password, sep, Iterations, KeyLength, sha256.New)
}

// Hash returns the hex-encoded SHA-256 digest of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Sign computes HMAC-SHA256 over the length-prefixed concatenation of parts,
// so that moving bytes between adjacent parts changes the signature.
func Sign(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		mac.Write(n[:])
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// Verify reports whether sig is the signature of parts under key.
func Verify(key, sig []byte, parts ...[]byte) bool {
	return hmac.Equal(Sign(key, parts...), sig)
}

// Cipher encrypts and decrypts containers. The zero value is usable and
// applies DefaultFutureTolerance with the wall clock.
type Cipher struct {
	FutureTolerance time.Duration
	Now             func() time.Time
}

// NewCipher returns a Cipher with the given tolerance. A non-positive value
// selects DefaultFutureTolerance.
func NewCipher(futureTolerance time.Duration) *Cipher {
	return &Cipher{FutureTolerance: futureTolerance}
}

func (c *Cipher) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Cipher) tolerance() time.Duration {
	if c == nil || c.FutureTolerance <= 0 {
		return DefaultFutureTolerance
	}
	return c.FutureTolerance
}

// Encrypt serializes v to JSON and seals it under password. Every call uses a
// fresh salt and IV, so identical inputs never produce identical containers.
func (c *Cipher) Encrypt(v any, password []byte) (*Container, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)

	salt := common.GenerateRandByteArray(SaltLength)
	iv := common.GenerateRandByteArray(IVLength)

	key := DeriveKey(password, salt)
	defer memguard.WipeBytes(key)
	signKey := DeriveSignKey(password, salt)
	defer memguard.WipeBytes(signKey)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := aesgcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagLength

	out := &Container{
		Ciphertext: sealed[:split],
		AuthTag:    sealed[split:],
		IV:         iv,
		Salt:       salt,
		Timestamp:  c.now().UnixMilli(),
		Version:    Version,
	}
	out.Signature = Sign(signKey, out.signedParts()...)
	return out, nil
}

// Decrypt verifies and opens ct with password and unmarshals the plaintext
// into v. The signature is checked before any decryption is attempted.
func (c *Cipher) Decrypt(ct *Container, password []byte, v any) error {
	if ct == nil || ct.Version != Version {
		return ErrDecryption
	}
	if len(ct.IV) != IVLength || len(ct.AuthTag) != TagLength || len(ct.Salt) == 0 {
		return ErrDecryption
	}

	signKey := DeriveSignKey(password, ct.Salt)
	ok := Verify(signKey, ct.Signature, ct.signedParts()...)
	memguard.WipeBytes(signKey)
	if !ok {
		return ErrDecryption
	}

	if time.UnixMilli(ct.Timestamp).After(c.now().Add(c.tolerance())) {
		return ErrDecryption
	}

	key := DeriveKey(password, ct.Salt)
	defer memguard.WipeBytes(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return ErrDecryption
	}

	sealed := make([]byte, 0, len(ct.Ciphertext)+TagLength)
	sealed = append(sealed, ct.Ciphertext...)
	sealed = append(sealed, ct.AuthTag...)

	plaintext, err := aesgcm.Open(nil, ct.IV, sealed, nil)
	if err != nil {
		return ErrDecryption
	}
	defer memguard.WipeBytes(plaintext)

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryption
	}
	return nil
}

func (ct *Container) signedParts() [][]byte {
	return [][]byte{
		ct.Ciphertext,
		ct.IV,
		ct.Salt,
		ct.AuthTag,
		[]byte(strconv.FormatInt(ct.Timestamp, 10)),
		[]byte(ct.Version),
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Marshal encodes a container for storage.
func Marshal(ct *Container) ([]byte, error) {
	return json.Marshal(ct)
}

// Unmarshal decodes a stored container. Malformed input is reported as
// ErrDecryption, like any other unreadable container.
func Unmarshal(data []byte) (*Container, error) {
	var ct Container
	if err := json.Unmarshal(data, &ct); err != nil {
		return nil, ErrDecryption
	}
	return &ct, nil
}
