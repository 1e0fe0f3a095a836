package kv

import "github.com/indigo-web/utils/strcomp"

type Pair struct {
	Key, Value string
}

// Storage is an associative structure for storing (string, string) pairs. Keys are compared
// case-insensitively, while the original spelling of the first insertion is preserved and
// pairs keep their insertion order. It uses linear search instead of hashing, which proves
// to be more efficient on relatively low amount of entries, which is often enough the case
// with headers.
type Storage struct {
	pairs []Pair
}

func New() *Storage {
	return new(Storage)
}

// NewPrealloc returns an instance of Storage with pre-allocated underlying storage.
func NewPrealloc(n int) *Storage {
	return &Storage{
		pairs: make([]Pair, 0, n),
	}
}

// Add appends a new pair regardless of whether the key is already presented.
func (s *Storage) Add(key, value string) *Storage {
	s.pairs = append(s.pairs, Pair{Key: key, Value: value})
	return s
}

// Set overrides the value of an existing key, or adds a new pair otherwise. Duplicates of
// the key, if any, are removed.
func (s *Storage) Set(key, value string) *Storage {
	idx := s.index(key)
	if idx == -1 {
		return s.Add(key, value)
	}

	s.pairs[idx].Value = value
	s.pairs = append(s.pairs[:idx+1], deleteKey(s.pairs[idx+1:], key)...)

	return s
}

// Get returns the last value set for the key.
func (s *Storage) Get(key string) (value string, found bool) {
	for i := len(s.pairs) - 1; i >= 0; i-- {
		if strcomp.EqualFold(s.pairs[i].Key, key) {
			return s.pairs[i].Value, true
		}
	}

	return "", false
}

// Value returns the value corresponding to the key or an empty string.
func (s *Storage) Value(key string) string {
	value, _ := s.Get(key)
	return value
}

func (s *Storage) Has(key string) bool {
	return s.index(key) != -1
}

// Delete removes all the pairs with the key.
func (s *Storage) Delete(key string) *Storage {
	s.pairs = deleteKey(s.pairs, key)
	return s
}

// Pairs exposes the underlying pairs. The returned slice must not be modified.
func (s *Storage) Pairs() []Pair {
	return s.pairs
}

func (s *Storage) Len() int {
	return len(s.pairs)
}

// Clear removes all the pairs while keeping the allocated memory.
func (s *Storage) Clear() {
	s.pairs = s.pairs[:0]
}

func (s *Storage) index(key string) int {
	for i, pair := range s.pairs {
		if strcomp.EqualFold(pair.Key, key) {
			return i
		}
	}

	return -1
}

func deleteKey(pairs []Pair, key string) []Pair {
	kept := pairs[:0]
	for _, pair := range pairs {
		if !strcomp.EqualFold(pair.Key, key) {
			kept = append(kept, pair)
		}
	}

	return kept
}
