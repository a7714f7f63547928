package report

import (
	"sync"

	"github.com/deixis/devpipe/internal/pipeline"
)

// LRUStore is an in-memory store that keeps the cap most recently used
// reports and evicts the rest.
type LRUStore struct {
	mu  sync.Mutex
	cap int

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key    string
	report *pipeline.Report
	prev   *lruEntry
	next   *lruEntry
}

// NewLRUStore creates an LRU store with the given capacity.
// Capacity must be >= 1.
func NewLRUStore(cap int) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save inserts or refreshes rep under its ID.
func (s *LRUStore) Save(rep *pipeline.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[rep.ID]; ok {
		e.report = rep
		s.moveToFront(e)
		return nil
	}
	e := &lruEntry{key: rep.ID, report: rep}
	s.items[rep.ID] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
	return nil
}

// Load returns the report for runID and marks it most recently used.
func (s *LRUStore) Load(runID string) (*pipeline.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[runID]
	if !ok {
		return nil, notFound(runID)
	}
	s.moveToFront(e)
	return e.report, nil
}

// Recent returns up to n run IDs, most recent first.
func (s *LRUStore) Recent(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for e := s.head; e != nil && len(ids) < n; e = e.next {
		ids = append(ids, e.key)
	}
	return ids
}

// Len returns the number of stored reports.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
