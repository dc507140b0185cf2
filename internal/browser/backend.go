// Package browser is the client-side engine for browsing a content service:
// it composes the tree model and navigation state, runs moves and other
// mutations, and restores the user's place afterwards.
package browser

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/fruitsalade/librarian/internal/tree"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// Backend is the content service as seen by the engine.
type Backend interface {
	tree.Loader
	ListItems(ctx context.Context, library, folder models.ContainerID) (protocol.ItemsResponse, error)
	SmartMove(ctx context.Context, itemIDs []string, dest models.ContainerID) (models.MoveResult, error)
	AddToLibrary(ctx context.Context, itemIDs []string, library models.ContainerID) (models.MoveResult, error)
	MoveToFolder(ctx context.Context, itemIDs []string, folder, library models.ContainerID) (models.MoveResult, error)
	DeleteItems(ctx context.Context, itemIDs []string) (models.DeleteResult, error)
	CreateFolder(ctx context.Context, name string, library, parent models.ContainerID) (models.Container, error)
}

// ErrOperationInProgress is returned when a mutation is requested while another is still running.
var ErrOperationInProgress = errors.New("another operation is in progress")

// guard allows one mutating operation at a time.
type guard struct {
	busy atomic.Bool
}

func (g *guard) acquire() bool { return g.busy.CompareAndSwap(false, true) }
func (g *guard) release()      { g.busy.Store(false) }
func (g *guard) held() bool    { return g.busy.Load() }
