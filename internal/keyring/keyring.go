// Package keyring holds the HDS password in guarded memory between unlock and
// lock. It is the only place the password lives; entity stores borrow it for
// the duration of a single operation.
package keyring

import (
	"sync"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/osteokeeper/internal/common"
)

// Keyring keeps the password sealed in a memguard enclave.
type Keyring struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// New returns a locked keyring.
func New() *Keyring {
	return &Keyring{}
}

// Set seals a copy of password, replacing any previous one. The caller keeps
// ownership of password and should wipe it.
func (k *Keyring) Set(password []byte) {
	// memguard refuses empty buffers, so the sealed value carries a one-byte
	// prefix and an empty password is still representable.
	buf := make([]byte, 1, len(password)+1)
	buf = append(buf, password...)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = memguard.NewEnclave(buf)
}

// Unlocked reports whether a password is held.
func (k *Keyring) Unlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.enclave != nil
}

// Lock drops the enclave. The sealed bytes become unreachable and the
// plaintext copies handed to With have already been destroyed.
func (k *Keyring) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

// With opens the enclave and passes the plaintext password to fn. The buffer
// is destroyed when fn returns; fn must not retain it.
func (k *Keyring) With(fn func(password []byte) error) error {
	k.mu.RLock()
	enclave := k.enclave
	k.mu.RUnlock()

	if enclave == nil {
		return common.ErrLocked
	}

	buf, err := enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	return fn(buf.Bytes()[1:])
}
