// Package catalog stores libraries, folders, items and the memberships that
// file items into them, and implements the move rules on top of them.
//
// An item has exactly one owner membership, its primary location, and any
// number of shared memberships in other libraries. Each membership names a
// library and optionally a folder inside it.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

var (
	// ErrNotFound is wrapped by errors about a missing library, folder or item.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is wrapped by errors about rejected input.
	ErrInvalid = errors.New("invalid request")
)

// Library is a top-level container.
type Library struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Folder is a nested container inside one library.
type Folder struct {
	ID        string
	LibraryID string
	ParentID  string // empty at the library root
	Name      string
	CreatedAt time.Time
}

// Item is a stored file.
type Item struct {
	ID          string
	Title       string
	Extension   string
	Size        int64
	ContentType string
	StorageKey  string
	ModifiedAt  time.Time
}

// Leaf converts the item for listings.
func (it Item) Leaf() models.LeafItem {
	return models.LeafItem{
		ID:           it.ID,
		Title:        it.Title,
		Extension:    it.Extension,
		Size:         it.Size,
		LastModified: it.ModifiedAt,
	}
}

// Membership files an item into a library, and into a folder when FolderID is set.
type Membership struct {
	ItemID    string
	LibraryID string
	FolderID  string
	Owner     bool
}

// Catalog is the metadata store behind the content service.
type Catalog interface {
	Libraries(ctx context.Context) ([]models.Container, error)
	CreateLibrary(ctx context.Context, name string) (models.Container, error)
	Folders(ctx context.Context, library string) ([]models.Container, error)
	CreateFolder(ctx context.Context, name, library, parent string) (models.Container, error)
	Items(ctx context.Context, library, folder string) (protocol.ItemsResponse, error)

	AddItem(ctx context.Context, item Item, library, folder string) (Item, error)
	Item(ctx context.Context, id string) (Item, error)
	// DeleteItems removes items and returns the ones that existed, so their
	// content can be removed from storage.
	DeleteItems(ctx context.Context, ids []string) (models.DeleteResult, []Item, error)

	SmartMove(ctx context.Context, ids []string, dest models.ContainerID) (models.MoveResult, error)
	AddToLibrary(ctx context.Context, ids []string, library string) (models.MoveResult, error)
	MoveToFolder(ctx context.Context, ids []string, folder, library string) (models.MoveResult, error)

	Close() error
}
