package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID        int      `json:"id"`
	FirstName string   `json:"firstName"`
	Tags      []string `json:"tags"`
}

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	require.Len(t, key1, KeyLength)
	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKey(password, []byte("salt-1"))
	key2 := DeriveKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestDeriveSignKey_IndependentFromEncryptionKey(t *testing.T) {
	password := []byte("pw")
	salt := []byte("0123456789abcdef")

	enc := DeriveKey(password, salt)
	sign := DeriveSignKey(password, salt)

	require.Len(t, sign, KeyLength)
	assert.NotEqual(t, enc, sign)
	assert.Equal(t, sign, DeriveSignKey(password, salt))
}

func TestHash_KnownVector(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
	assert.Len(t, Hash([]byte("abc")), 64)
	_, err := hex.DecodeString(Hash([]byte("abc")))
	require.NoError(t, err)
}

func TestSign_LengthPrefixSeparatesParts(t *testing.T) {
	key := []byte("k")
	a := Sign(key, []byte("ab"), []byte("c"))
	b := Sign(key, []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.True(t, Verify(key, a, []byte("ab"), []byte("c")))
	assert.False(t, Verify(key, a, []byte("a"), []byte("bc")))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := &Cipher{}
	in := []sample{
		{ID: 1, FirstName: "Jean", Tags: []string{"a"}},
		{ID: 2, FirstName: "Élodie"},
	}

	ct, err := c.Encrypt(in, []byte("pw1"))
	require.NoError(t, err)
	assert.Equal(t, Version, ct.Version)
	assert.Len(t, ct.IV, IVLength)
	assert.Len(t, ct.Salt, SaltLength)
	assert.Len(t, ct.AuthTag, TagLength)
	assert.NotEmpty(t, ct.Signature)

	var out []sample
	require.NoError(t, c.Decrypt(ct, []byte("pw1"), &out))
	assert.Equal(t, in, out)
}

func TestEncryptDecrypt_EmptyPasswordAndEmptySet(t *testing.T) {
	c := &Cipher{}
	ct, err := c.Encrypt([]sample{}, []byte(""))
	require.NoError(t, err)

	var out []sample
	require.NoError(t, c.Decrypt(ct, []byte(""), &out))
	assert.Empty(t, out)
}

func TestDecrypt_WrongPassword(t *testing.T) {
	c := &Cipher{}
	ct, err := c.Encrypt(sample{ID: 1}, []byte("pw1"))
	require.NoError(t, err)

	var out sample
	err = c.Decrypt(ct, []byte("pw2"), &out)
	require.ErrorIs(t, err, ErrDecryption)
	assert.Equal(t, sample{}, out)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c := &Cipher{}
	in := sample{ID: 7, FirstName: "same"}

	a, err := c.Encrypt(in, []byte("pw"))
	require.NoError(t, err)
	b, err := c.Encrypt(in, []byte("pw"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

	ra, err := Marshal(a)
	require.NoError(t, err)
	rb, err := Marshal(b)
	require.NoError(t, err)
	assert.NotEqual(t, ra, rb)
}

func TestDecrypt_TamperDetection(t *testing.T) {
	c := &Cipher{}
	password := []byte("pw")

	fields := map[string]func(ct *Container) []byte{
		"ciphertext": func(ct *Container) []byte { return ct.Ciphertext },
		"iv":         func(ct *Container) []byte { return ct.IV },
		"salt":       func(ct *Container) []byte { return ct.Salt },
		"authTag":    func(ct *Container) []byte { return ct.AuthTag },
		"signature":  func(ct *Container) []byte { return ct.Signature },
	}

	for name, field := range fields {
		t.Run(name, func(t *testing.T) {
			ct, err := c.Encrypt(sample{ID: 1, FirstName: "Jean"}, password)
			require.NoError(t, err)

			field(ct)[0] ^= 0x01

			for i := 0; i < 2; i++ {
				var out sample
				err := c.Decrypt(ct, password, &out)
				require.ErrorIs(t, err, ErrDecryption)
				assert.Equal(t, sample{}, out)
			}
		})
	}
}

func TestDecrypt_MetadataTamper(t *testing.T) {
	c := &Cipher{}
	password := []byte("pw")

	t.Run("timestamp", func(t *testing.T) {
		ct, err := c.Encrypt(sample{ID: 1}, password)
		require.NoError(t, err)
		ct.Timestamp--
		var out sample
		require.ErrorIs(t, c.Decrypt(ct, password, &out), ErrDecryption)
	})

	t.Run("unknown version", func(t *testing.T) {
		ct, err := c.Encrypt(sample{ID: 1}, password)
		require.NoError(t, err)
		ct.Version = "1"
		var out sample
		require.ErrorIs(t, c.Decrypt(ct, password, &out), ErrDecryption)
	})

	t.Run("nil container", func(t *testing.T) {
		var out sample
		require.ErrorIs(t, c.Decrypt(nil, password, &out), ErrDecryption)
	})
}

func TestDecrypt_FutureTimestampTolerance(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	writer := &Cipher{Now: func() time.Time { return base.Add(10 * time.Minute) }}
	ct, err := writer.Encrypt(sample{ID: 1}, []byte("pw"))
	require.NoError(t, err)

	strict := &Cipher{FutureTolerance: 5 * time.Minute, Now: func() time.Time { return base }}
	var out sample
	require.ErrorIs(t, strict.Decrypt(ct, []byte("pw"), &out), ErrDecryption)

	lenient := &Cipher{FutureTolerance: 15 * time.Minute, Now: func() time.Time { return base }}
	require.NoError(t, lenient.Decrypt(ct, []byte("pw"), &out))
	assert.Equal(t, 1, out.ID)
}

func TestMarshalUnmarshal_Container(t *testing.T) {
	c := NewCipher(0)
	ct, err := c.Encrypt(map[string]string{"a": "b"}, []byte("pw"))
	require.NoError(t, err)

	raw, err := Marshal(ct)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"authTag"`)

	back, err := Unmarshal(raw)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.Decrypt(back, []byte("pw"), &out))
	assert.Equal(t, "b", out["a"])

	_, err = Unmarshal([]byte("{not json"))
	require.ErrorIs(t, err, ErrDecryption)
}
