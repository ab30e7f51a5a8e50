package store

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore/types"
)

// AssignmentStore is the write-once connection registry the director fills
// after a successful allocation. Readers poll it until their ticket's
// assignment shows up; an entry never changes once written and is dropped
// only when its ticket is removed.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]*types.Assignment
}

// NewAssignmentStore creates a new empty store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{
		assignments: make(map[string]*types.Assignment),
	}
}

// Set writes a ticket's assignment. Writing the same connection twice is
// idempotent; changing it fails with ErrAlreadyAssigned.
func (s *AssignmentStore) Set(_ context.Context, ticketID string, assignment *types.Assignment) error {
	if assignment == nil || assignment.Connection == "" {
		return eris.New("assignment connection is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assignments[ticketID]; ok {
		if existing.Connection == assignment.Connection {
			return nil
		}
		return eris.Wrapf(ErrAlreadyAssigned, "ticket %q already has connection %q", ticketID, existing.Connection)
	}
	s.assignments[ticketID] = assignment
	return nil
}

// Get returns the ticket's assignment, or nil when none exists yet.
// Repeated reads return the identical assignment.
func (s *AssignmentStore) Get(_ context.Context, ticketID string) (*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignment, ok := s.assignments[ticketID]
	if !ok {
		return nil, nil
	}
	return assignment, nil
}

// Delete drops assignments for removed tickets.
func (s *AssignmentStore) Delete(_ context.Context, ticketIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ticketIDs {
		delete(s.assignments, id)
	}
	return nil
}

// Count returns the number of stored assignments.
func (s *AssignmentStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments), nil
}
