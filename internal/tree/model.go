package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/librarian/internal/failure"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/pkg/models"
)

// ErrUnknownContainer is wrapped in a LoadError when LoadChildren is asked for
// an id that is not a loaded library.
var ErrUnknownContainer = errors.New("unknown library")

// Loader fetches containers from the content service.
type Loader interface {
	ListLibraries(ctx context.Context) ([]models.Container, error)
	ListFolders(ctx context.Context, library models.ContainerID) ([]models.Container, error)
}

// Model is the single owner of container data on the client side.
type Model struct {
	loader Loader
	group  singleflight.Group

	mu     sync.RWMutex
	forest []models.Container
	issued uint64 // last LoadTopLevel issued
}

// New creates an empty model backed by loader.
func New(loader Loader) *Model {
	return &Model{loader: loader}
}

// LoadTopLevel replaces the forest with freshly listed libraries, all collapsed
// and without children. If a newer LoadTopLevel was issued while this one was in
// flight, the result is discarded and the current forest is returned instead.
func (m *Model) LoadTopLevel(ctx context.Context) ([]models.Container, error) {
	m.mu.Lock()
	m.issued++
	seq := m.issued
	m.mu.Unlock()

	libs, err := m.loader.ListLibraries(ctx)
	if err != nil {
		return nil, failure.Load("libraries", err)
	}

	forest := make([]models.Container, 0, len(libs))
	for _, lib := range dedupe(libs) {
		if !lib.ID.IsLibrary() {
			continue
		}
		forest = append(forest, models.Container{ID: lib.ID, Label: lib.Label})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.issued {
		logging.Debug("discarding stale library listing", logging.Int("libraries", len(forest)))
		return Clone(m.forest), nil
	}
	m.forest = forest
	return Clone(forest), nil
}

// LoadChildren fetches the folders of a library and merges them into the
// matching top-level entry, replacing any previous children. Concurrent calls
// for the same library share one request.
func (m *Model) LoadChildren(ctx context.Context, library models.ContainerID) ([]models.Container, error) {
	if !m.hasLibrary(library) {
		return nil, failure.Load("folders", fmt.Errorf("%w: %s", ErrUnknownContainer, library))
	}

	v, err, _ := m.group.Do(library.String(), func() (any, error) {
		return m.loader.ListFolders(ctx, library)
	})
	if err != nil {
		return nil, failure.Load("folders", err)
	}
	folders := dedupe(v.([]models.Container))
	for i := range folders {
		folders[i].Loaded = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.forest {
		if m.forest[i].ID != library {
			continue
		}
		m.forest[i].Children = folders
		m.forest[i].Expanded = true
		m.forest[i].Loaded = true
		return Clone(folders), nil
	}
	// The library vanished from a reload that landed while we were fetching.
	return nil, failure.Load("folders", fmt.Errorf("%w: %s", ErrUnknownContainer, library))
}

func (m *Model) hasLibrary(id models.ContainerID) bool {
	if !id.IsLibrary() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.forest {
		if m.forest[i].ID == id {
			return true
		}
	}
	return false
}

// Forest returns a deep copy of the current forest.
func (m *Model) Forest() []models.Container {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Clone(m.forest)
}

// Lookup returns a copy of the container with the given id.
func (m *Model) Lookup(id models.ContainerID) (models.Container, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Find(m.forest, id)
}

// IsLoaded reports whether a library's folders have been fetched.
func (m *Model) IsLoaded(library models.ContainerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.forest {
		if m.forest[i].ID == library {
			return m.forest[i].Loaded
		}
	}
	return false
}

// FindContainerForNestedID returns the library owning a folder id.
func (m *Model) FindContainerForNestedID(id models.ContainerID) (models.ContainerID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FindLibraryFor(m.forest, id)
}

// FindLabel returns the label of any container in the forest.
func (m *Model) FindLabel(id models.ContainerID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FindLabel(m.forest, id)
}

// SetItems records the items of the currently viewed container and drops
// items held by any other node.
func (m *Model) SetItems(id models.ContainerID, items []models.LeafItem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	clearItems(m.forest)
	c := findPtr(m.forest, id)
	if c == nil {
		return false
	}
	c.Items = append([]models.LeafItem{}, items...)
	return true
}

// Items returns the items recorded for id.
func (m *Model) Items(id models.ContainerID) []models.LeafItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := findPtr(m.forest, id); c != nil {
		return append([]models.LeafItem(nil), c.Items...)
	}
	return nil
}
