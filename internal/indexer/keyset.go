package indexer

import (
	"sync"

	"github.com/dshills/symindex/pkg/types"
)

// KeySet is the set of natural keys already indexed for one repository.
// It is safe for concurrent use: the dispatcher reads it while the commit
// stage adds to it.
type KeySet struct {
	mu   sync.RWMutex
	keys map[types.NaturalKey]struct{}
}

// NewKeySet creates a set holding keys
func NewKeySet(keys []types.NaturalKey) *KeySet {
	s := &KeySet{keys: make(map[types.NaturalKey]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

// Contains reports whether k is in the set
func (s *KeySet) Contains(k types.NaturalKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[k]
	return ok
}

// Add inserts k and reports whether it was absent
func (s *KeySet) Add(k types.NaturalKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

// Len returns the number of keys
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
