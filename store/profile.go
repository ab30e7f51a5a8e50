package store

import (
	"os"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore/types"
)

// ProfileStore holds all registered match profiles. Registration and the
// director's per-tick snapshot run concurrently, so access is lock-guarded.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*types.Profile
}

// NewProfileStore creates a new empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*types.Profile),
	}
}

// Add validates and registers a profile.
func (s *ProfileStore) Add(profile *types.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[profile.Name]; exists {
		return eris.Wrapf(ErrProfileExists, "profile %q", profile.Name)
	}
	s.profiles[profile.Name] = profile
	return nil
}

// Get retrieves a profile by name.
func (s *ProfileStore) Get(name string) (*types.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[name]
	return profile, ok
}

// All returns all profiles sorted by name.
func (s *ProfileStore) All() []*types.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the number of registered profiles.
func (s *ProfileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// LoadProfilesFromFile loads match profiles from a JSON file.
func LoadProfilesFromFile(path string) (*ProfileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read match profiles file: %s", path)
	}
	return LoadProfilesFromJSON(data)
}

// LoadProfilesFromJSON loads match profiles from a JSON array.
func LoadProfilesFromJSON(data []byte) (*ProfileStore, error) {
	var profiles []*types.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, eris.Wrap(err, "failed to parse match profiles JSON")
	}

	store := NewProfileStore()
	for _, p := range profiles {
		if err := store.Add(p); err != nil {
			return nil, err
		}
	}
	return store, nil
}
