// Package session holds the editing workspace: the ordered set of uploaded
// image records and the pointer to the one being edited.
//
// Session is the single owner of record state. Every mutation (switching the
// active image, replacing a current raster, resetting to the original,
// swapping in a new upload batch) goes through its methods, which keeps the
// "original is immutable" and "active index is in range" invariants in one
// place. A Session is safe for concurrent use.
package session

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrEmpty is returned when an operation needs an active record but the
	// session has none.
	ErrEmpty = errors.New("session has no images")

	// ErrOutOfRange is returned for indexes outside [0, Len()).
	ErrOutOfRange = errors.New("image index out of range")

	// ErrNotFound is returned when a record ID is not part of the session,
	// typically because a newer upload batch replaced it.
	ErrNotFound = errors.New("image not in session")
)

// NavState describes the previous/next navigation controls.
type NavState struct {
	Visible     bool `json:"visible"`
	PrevEnabled bool `json:"prevEnabled"`
	NextEnabled bool `json:"nextEnabled"`
	Index       int  `json:"index"`
	Count       int  `json:"count"`
}

// Session is the ordered collection of records plus the active pointer.
// The active index is -1 exactly when the session is empty.
type Session struct {
	mu      sync.RWMutex
	records []*Record
	active  int
}

// New returns an empty session.
func New() *Session {
	return &Session{active: -1}
}

// Len returns the number of records.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ActiveIndex returns the active index, or -1 for an empty session.
func (s *Session) ActiveIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Active returns the record being edited.
func (s *Session) Active() (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active < 0 {
		return nil, ErrEmpty
	}
	return s.records[s.active], nil
}

// At returns the record at index i.
func (s *Session) At(i int) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.records) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(s.records))
	}
	return s.records[i], nil
}

// ByID looks a record up by its ID.
func (s *Session) ByID(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Records returns the records in upload order. The slice is a copy.
func (s *Session) Records() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// SetActive makes record i the active one. Out-of-range indexes leave the
// session untouched and return ErrOutOfRange.
func (s *Session) SetActive(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.records) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(s.records))
	}
	s.active = i
	return nil
}

// Next moves to the following record. It fails at the last record.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 || s.active >= len(s.records)-1 {
		return fmt.Errorf("%w: already at last image", ErrOutOfRange)
	}
	s.active++
	return nil
}

// Prev moves to the preceding record. It fails at the first record.
func (s *Session) Prev() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active <= 0 {
		return fmt.Errorf("%w: already at first image", ErrOutOfRange)
	}
	s.active--
	return nil
}

// Navigation reports which navigation controls are visible and enabled.
func (s *Session) Navigation() NavState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	return NavState{
		Visible:     n > 1,
		PrevEnabled: n > 0 && s.active > 0,
		NextEnabled: n > 0 && s.active < n-1,
		Index:       s.active,
		Count:       n,
	}
}

// ReplaceAll swaps in a new batch of records. The first record becomes
// active; an empty batch empties the session.
func (s *Session) ReplaceAll(records []*Record) {
	next := make([]*Record, len(records))
	copy(next, records)

	s.mu.Lock()
	s.records = next
	if len(next) > 0 {
		s.active = 0
	} else {
		s.active = -1
	}
	s.mu.Unlock()

	log.Debug().Int("count", len(next)).Msg("Session records replaced")
}

// SetCurrent replaces the current raster of the record with the given ID.
func (s *Session) SetCurrent(id string, img image.Image) error {
	rec, ok := s.ByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.setCurrent(img)
	return nil
}

// ResetActiveToOriginal copies the active record's original raster back
// into its current raster and returns the record.
func (s *Session) ResetActiveToOriginal() (*Record, error) {
	rec, err := s.Active()
	if err != nil {
		return nil, err
	}
	rec.resetToOriginal()
	log.Debug().Str("id", rec.ID).Str("file", rec.Filename).Msg("Image reset to original")
	return rec, nil
}
