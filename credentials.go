package blivedm

import (
	"maps"
	"sync/atomic"
)

// Cookies is an immutable snapshot of login cookies, keyed by name.
type Cookies map[string]string

// CredentialStore holds the cookies shared by many clients. Store replaces
// the whole value atomically; clients read a snapshot when they bootstrap and
// keep using it until their next bootstrap.
type CredentialStore struct {
	v atomic.Pointer[Cookies]
}

// NewCredentialStore returns a store holding a copy of cookies.
func NewCredentialStore(cookies map[string]string) *CredentialStore {
	s := &CredentialStore{}
	s.Store(cookies)
	return s
}

// Load returns the current snapshot. The result must not be modified.
func (s *CredentialStore) Load() Cookies {
	if s == nil {
		return nil
	}
	p := s.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Store replaces the snapshot with a copy of cookies.
func (s *CredentialStore) Store(cookies map[string]string) {
	c := Cookies(maps.Clone(cookies))
	s.v.Store(&c)
}

// Get returns the value of one cookie, or "".
func (c Cookies) Get(name string) string {
	return c[name]
}
