package browser

import (
	"context"
	"sync"

	"github.com/fruitsalade/librarian/internal/failure"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/navigation"
	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/internal/tree"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/retry"
)

const defaultDestinationLabel = "Selected destination"

// Options configures a Session.
type Options struct {
	Sink    notify.Sink
	View    View
	Retry   retry.Config // library reload policy during reconciliation
	Confirm ConfirmFunc  // asked before a two-step move; nil proceeds
}

// Snapshot is a consistent copy of everything a view renders.
type Snapshot struct {
	Navigation navigation.View
	Forest     []models.Container
	Items      []models.LeafItem
	Busy       bool
}

// Session is the browser engine for one user: it owns the tree model and the
// navigation state and runs mutations through the orchestrator.
type Session struct {
	backend Backend
	sink    notify.Sink
	tree    *tree.Model
	nav     *navigation.State
	rec     *Reconciler
	orch    *Orchestrator

	mu        sync.Mutex
	scroll    int
	hasScroll bool
}

// NewSession wires a session to backend.
func NewSession(backend Backend, opts Options) *Session {
	sink := opts.Sink
	if sink == nil {
		sink = notify.LogSink{}
	}
	s := &Session{
		backend: backend,
		sink:    sink,
		tree:    tree.New(backend),
		nav:     navigation.New(),
	}
	s.rec = NewReconciler(s.tree, s, opts.View, opts.Retry, s.scrollOffset)
	s.orch = NewOrchestrator(backend, s.rec, sink, s.tree.FindContainerForNestedID, opts.Confirm)
	return s
}

// Tree returns the session's tree model.
func (s *Session) Tree() *tree.Model { return s.tree }

// Navigation returns the session's navigation state.
func (s *Session) Navigation() *navigation.State { return s.nav }

// Reconciler returns the session's reconciler.
func (s *Session) Reconciler() *Reconciler { return s.rec }

// Orchestrator returns the session's orchestrator.
func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Start loads the libraries.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.tree.LoadTopLevel(ctx); err != nil {
		s.sink.Notify(notify.New(notify.Error, "Error", "Error loading libraries: "+err.Error()))
		return err
	}
	return nil
}

// Expand loads a library's folders.
func (s *Session) Expand(ctx context.Context, library models.ContainerID) ([]models.Container, error) {
	folders, err := s.tree.LoadChildren(ctx, library)
	if err != nil {
		s.sink.Notify(notify.New(notify.Error, "Error", "Error loading folders: "+err.Error()))
		return nil, err
	}
	return folders, nil
}

// Select opens a container picked in the tree or a breadcrumb. A folder is
// opened inside the library that holds it.
func (s *Session) Select(ctx context.Context, id models.ContainerID) error {
	switch {
	case id.IsLibrary():
		return s.NavigateTo(ctx, id, models.ContainerID{})
	case id.IsFolder():
		library, ok := s.tree.FindContainerForNestedID(id)
		if !ok {
			s.sink.Notify(notify.New(notify.Error, "Error", "Could not find library for selected folder"))
			return navigation.ErrNoLibrary
		}
		return s.NavigateTo(ctx, library, id)
	default:
		return navigation.ErrInvalidTarget
	}
}

// NavigateTo lists the items of folder in library, or of library itself when
// folder is zero. A listing that arrives after a newer navigation began is
// dropped.
func (s *Session) NavigateTo(ctx context.Context, library, folder models.ContainerID) error {
	ticket, err := s.nav.Begin(library, folder)
	if err != nil {
		return err
	}

	resp, err := s.backend.ListItems(ctx, library, folder)
	if err != nil {
		if s.nav.Fail(ticket) {
			s.tree.SetItems(models.ContainerID{}, nil)
			s.sink.Notify(notify.New(notify.Error, "Error", "Error loading files: "+err.Error()))
		}
		return failure.Load("items", err)
	}

	if !s.nav.Complete(ticket, navigation.Listing{Breadcrumbs: resp.Breadcrumbs, Path: resp.Path}) {
		logging.Debug("discarding stale listing", logging.Stringer("library", library), logging.Stringer("folder", folder))
		return nil
	}
	target := library
	if folder.IsFolder() {
		target = folder
	}
	if !s.tree.SetItems(target, resp.Items) && folder.IsFolder() {
		if _, err := s.tree.LoadChildren(ctx, library); err == nil {
			s.tree.SetItems(target, resp.Items)
		}
	}
	return nil
}

// Current implements Navigator.
func (s *Session) Current() (library, folder models.ContainerID) {
	return s.nav.Current()
}

// CurrentItems returns the items of the location being viewed.
func (s *Session) CurrentItems() []models.LeafItem {
	library, folder := s.nav.Current()
	if folder.IsFolder() {
		return s.tree.Items(folder)
	}
	return s.tree.Items(library)
}

// Refresh reloads libraries and the current listing.
func (s *Session) Refresh(ctx context.Context) Result {
	return s.rec.RefreshCurrent(ctx)
}

// ─── Selection ──────────────────────────────────────────────────────────────

// SelectItems replaces the item selection.
func (s *Session) SelectItems(ids ...string) { s.nav.Select(ids...) }

// ToggleItem flips one item in the selection.
func (s *Session) ToggleItem(id string) { s.nav.Toggle(id) }

// ClearSelection empties the selection.
func (s *Session) ClearSelection() { s.nav.Clear() }

// ─── Mutations ──────────────────────────────────────────────────────────────

// Move moves the selected items to dest.
func (s *Session) Move(ctx context.Context, dest models.ContainerID) (Report, error) {
	return s.orch.Move(ctx, s.nav.Selected(), dest)
}

// Delete deletes the selected items.
func (s *Session) Delete(ctx context.Context) (models.DeleteResult, error) {
	return s.orch.Delete(ctx, s.nav.Selected())
}

// CreateFolder creates a folder at the current location.
func (s *Session) CreateFolder(ctx context.Context, name string) (models.Container, error) {
	library, folder := s.nav.Current()
	return s.orch.CreateFolder(ctx, name, library, folder)
}

// ─── Destination picker ─────────────────────────────────────────────────────

// Destinations returns the forest filtered for the move dialog.
func (s *Session) Destinations(query string) []models.Container {
	return tree.Filter(s.tree.Forest(), query)
}

// DestinationLabel names a destination for confirmation prompts.
func (s *Session) DestinationLabel(id models.ContainerID) string {
	if label, ok := s.tree.FindLabel(id); ok && label != "" {
		return label
	}
	return defaultDestinationLabel
}

// ─── View state ─────────────────────────────────────────────────────────────

// SetScrollOffset records where the tree view is scrolled, to be restored
// after reconciliation.
func (s *Session) SetScrollOffset(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
	s.hasScroll = true
}

func (s *Session) scrollOffset() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll, s.hasScroll
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Navigation: s.nav.Snapshot(),
		Forest:     s.tree.Forest(),
		Items:      s.CurrentItems(),
		Busy:       s.orch.InProgress(),
	}
}
