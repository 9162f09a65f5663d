package daemon

import (
	"sync"

	"github.com/xtrc-dev/xtrc/internal/index"
)

// RepoState is one repository's open stores behind its read-write
// lock. /index holds the write lock for its whole duration; queries
// hold the read lock; /status probes without blocking.
type RepoState struct {
	mu     sync.RWMutex
	stores *index.RepoStores
}

// Registry maps canonical repository paths to open stores. Stores open
// lazily on first request and stay open for the daemon's lifetime.
type Registry struct {
	mu         sync.Mutex
	repos      map[string]*RepoState
	dimensions int
}

func NewRegistry(dimensions int) *Registry {
	return &Registry{
		repos:      make(map[string]*RepoState),
		dimensions: dimensions,
	}
}

// Get returns the state for a canonical repository path, opening its
// stores on first use.
func (r *Registry) Get(repoPath string) (*RepoState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.repos[repoPath]; ok {
		return state, nil
	}

	stores, err := index.OpenRepoStores(repoPath, r.dimensions)
	if err != nil {
		return nil, err
	}
	state := &RepoState{stores: stores}
	r.repos[repoPath] = state
	return state, nil
}

// Close releases every open repository.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for path, state := range r.repos {
		state.mu.Lock()
		if err := state.stores.Close(); err != nil && first == nil {
			first = err
		}
		state.mu.Unlock()
		delete(r.repos, path)
	}
	return first
}
