package common

import "crypto/rand"

// GenerateRandByteArray returns size bytes from crypto/rand. It panics if the
// system random source fails, which leaves no safe way to continue.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// WipeByteArray overwrites b with zeros. A nil slice is ignored.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
