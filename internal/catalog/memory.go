package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// Memory is a Catalog held in process memory.
type Memory struct {
	mu sync.RWMutex
	s  *snapshot
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{s: newSnapshot()}
}

// Libraries returns every library, sorted by label, without folders.
func (m *Memory) Libraries(ctx context.Context) ([]models.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return libraryContainers(m.s), nil
}

// CreateLibrary adds a library with a unique name.
func (m *Memory) CreateLibrary(ctx context.Context, name string) (models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, err := validateLibrary(m.s, name)
	if err != nil {
		return models.Container{}, err
	}
	lib := Library{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	m.s.libraries[lib.ID] = lib
	metrics.RecordCatalogMutation("create_library", true, 0)
	return models.Container{ID: models.LibraryID(lib.ID), Label: lib.Name}, nil
}

// Folders returns the folder tree of a library.
func (m *Memory) Folders(ctx context.Context, library string) ([]models.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.s.libraries[library]; !ok {
		return nil, notFound("library", library)
	}
	return folderTree(m.s, library), nil
}

// CreateFolder adds a folder under parent, or at the library root when parent is empty.
func (m *Memory) CreateFolder(ctx context.Context, name, library, parent string) (models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, err := validateFolder(m.s, name, library, parent)
	if err != nil {
		return models.Container{}, err
	}
	f := Folder{ID: uuid.NewString(), LibraryID: library, ParentID: parent, Name: name, CreatedAt: time.Now()}
	m.s.folders[f.ID] = f
	metrics.RecordCatalogMutation("create_folder", true, 0)
	return models.Container{ID: models.FolderID(f.ID), Label: f.Name}, nil
}

// Items lists the items filed in folder, or at the library root, with breadcrumbs.
func (m *Memory) Items(ctx context.Context, library, folder string) (protocol.ItemsResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return listing(m.s, library, folder)
}

// AddItem stores item metadata with its owner membership.
func (m *Memory) AddItem(ctx context.Context, item Item, library, folder string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validatePlacement(m.s, library, folder); err != nil {
		return Item{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ModifiedAt.IsZero() {
		item.ModifiedAt = time.Now()
	}
	m.s.items[item.ID] = item
	m.s.memberships[item.ID] = []Membership{{ItemID: item.ID, LibraryID: library, FolderID: folder, Owner: true}}
	metrics.RecordCatalogMutation("add_item", true, 1)
	return item, nil
}

// Item returns one item by id.
func (m *Memory) Item(ctx context.Context, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.s.items[id]
	if !ok {
		return Item{}, notFound("item", id)
	}
	return it, nil
}

// DeleteItems removes items and their memberships, returning the removed items.
func (m *Memory) DeleteItems(ctx context.Context, ids []string) (models.DeleteResult, []Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, removed := planDelete(m.s, ids)
	for _, it := range removed {
		delete(m.s.items, it.ID)
		delete(m.s.memberships, it.ID)
	}
	metrics.RecordCatalogMutation("delete", res.Success, res.SuccessCount)
	return res, removed, nil
}

// SmartMove moves items to dest, or returns a two-step plan without changing anything.
func (m *Memory) SmartMove(ctx context.Context, ids []string, dest models.ContainerID) (models.MoveResult, error) {
	return m.move("smart_move", func() (models.MoveResult, changes) { return planSmartMove(m.s, ids, dest) })
}

// AddToLibrary gives items a shared membership at the root of library.
func (m *Memory) AddToLibrary(ctx context.Context, ids []string, library string) (models.MoveResult, error) {
	return m.move("add_to_library", func() (models.MoveResult, changes) { return planAddToLibrary(m.s, ids, library) })
}

// MoveToFolder files items into a folder of a library they already belong to.
func (m *Memory) MoveToFolder(ctx context.Context, ids []string, folder, library string) (models.MoveResult, error) {
	return m.move("move_to_folder", func() (models.MoveResult, changes) { return planMoveToFolder(m.s, ids, folder, library) })
}

func (m *Memory) move(op string, plan func() (models.MoveResult, changes)) (models.MoveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, c := plan()
	m.s.apply(c)
	metrics.RecordCatalogMutation(op, res.Success, res.SuccessCount)
	return res, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
