package receiver

import (
	"sync"
	"time"
)

// Record is one received frame.
type Record struct {
	ID         string    `json:"id"`
	Conn       uint64    `json:"conn"` // connection number, also the file number
	Seq        uint64    `json:"seq"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Bytes      int       `json:"bytes"`
	Expected   int       `json:"expected"`
	Truncated  bool      `json:"truncated"`
	Corrupt    bool      `json:"corrupt,omitempty"`
	Remote     string    `json:"remote"`
	ReceivedAt time.Time `json:"received_at"`
	Path       string    `json:"path,omitempty"`
	Label      string    `json:"label,omitempty"`

	// BMP and Preview are served by the dashboard.
	BMP     []byte `json:"-"`
	Preview []byte `json:"-"`
}

// Store keeps the most recent frames. Records are returned by value; their
// byte slices are shared and must not be modified.
type Store struct {
	mu    sync.RWMutex
	keep  int
	order []string
	byID  map[string]*Record
}

// NewStore creates a store holding at most keep records.
func NewStore(keep int) *Store {
	if keep < 1 {
		keep = 1
	}
	return &Store{keep: keep, byID: make(map[string]*Record)}
}

// Add inserts r, evicting the oldest record when full.
func (s *Store) Add(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)
	for len(s.order) > s.keep {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns copies of the records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.byID[s.order[i]])
	}
	return out
}

// Latest returns a copy of the newest record.
func (s *Store) Latest() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Record{}, false
	}
	return *s.byID[s.order[len(s.order)-1]], true
}

// SetLabel records a label on the frame with id.
func (s *Store) SetLabel(id, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if ok {
		r.Label = label
	}
	return ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
