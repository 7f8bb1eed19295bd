package editor

import "github.com/google/uuid"

// Store holds the three geometry collections.
// Slices are never modified after publication: every mutation builds a new
// slice, so a slice returned by Get stays valid for concurrent readers.
// Store is not safe for concurrent mutation; Editor serialises access.
type Store struct {
	sets [numCollections][]AnnotatedPoint
}

// Get returns the current entries of c.
func (s *Store) Get(c Collection) []AnnotatedPoint {
	return s.sets[c]
}

// Len returns the number of entries in c.
func (s *Store) Len(c Collection) int {
	return len(s.sets[c])
}

// Append adds p to the end of c.
func (s *Store) Append(c Collection, p AnnotatedPoint) {
	cur := s.sets[c]
	next := make([]AnnotatedPoint, len(cur), len(cur)+1)
	copy(next, cur)
	s.sets[c] = append(next, p)
}

// Reset replaces every entry of c with ps.
func (s *Store) Reset(c Collection, ps ...AnnotatedPoint) {
	if len(ps) == 0 {
		s.sets[c] = nil
		return
	}
	s.sets[c] = append([]AnnotatedPoint(nil), ps...)
}

// IndexOf returns the position of the entry with the given id, or -1.
func (s *Store) IndexOf(c Collection, id uuid.UUID) int {
	for i, p := range s.sets[c] {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Update replaces the entry with p.ID in place. It reports false if the entry is gone.
func (s *Store) Update(c Collection, p AnnotatedPoint) bool {
	i := s.IndexOf(c, p.ID)
	if i < 0 {
		return false
	}

	cur := s.sets[c]
	next := make([]AnnotatedPoint, len(cur))
	copy(next, cur)
	next[i] = p
	s.sets[c] = next
	return true
}

// RemoveAt deletes the entry at index, shifting later entries left.
// It reports false if index is out of range.
func (s *Store) RemoveAt(c Collection, index int) bool {
	cur := s.sets[c]
	if index < 0 || index >= len(cur) {
		return false
	}

	next := make([]AnnotatedPoint, 0, len(cur)-1)
	next = append(next, cur[:index]...)
	next = append(next, cur[index+1:]...)
	s.sets[c] = next
	return true
}
