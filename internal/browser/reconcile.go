package browser

import (
	"context"
	"time"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/internal/tree"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/retry"
)

// Navigator moves the view. Session implements it.
type Navigator interface {
	NavigateTo(ctx context.Context, library, folder models.ContainerID) error
	Current() (library, folder models.ContainerID)
}

// View is the presentation layer. Rendered blocks until the view reflects the
// tree with target selected, or ctx is done; it replaces waiting a fixed delay
// before dependent steps such as restoring the scroll offset.
type View interface {
	Rendered(ctx context.Context, target models.ContainerID) error
	RestoreScroll(offset int)
}

// Target is where reconciliation should land. Library is the owner of a
// folder target, when the caller already knows it.
type Target struct {
	Container models.ContainerID
	Library   models.ContainerID
}

// Result reports where reconciliation landed.
type Result struct {
	Landed   models.ContainerID
	FellBack bool  // stayed at the pre-operation location
	Err      error // why it fell back, if it did
}

// Reconciler reloads the tree after a mutation and restores navigation.
type Reconciler struct {
	tree   *tree.Model
	nav    Navigator
	view   View
	retry  retry.Config
	scroll func() (int, bool)
}

// NewReconciler builds a reconciler. view and scroll may be nil.
func NewReconciler(t *tree.Model, nav Navigator, view View, cfg retry.Config, scroll func() (int, bool)) *Reconciler {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
		cfg.MaxAttempts = 2
	}
	return &Reconciler{tree: t, nav: nav, view: view, retry: cfg, scroll: scroll}
}

// Reconcile reloads libraries and lands on target: a library is opened
// directly, a folder after its library's folders are loaded. Any failure on
// the way falls back to refreshing the location that was current before.
func (r *Reconciler) Reconcile(ctx context.Context, t Target) Result {
	start := time.Now()
	prevLib, prevFolder := r.nav.Current()

	library := t.Library
	if t.Container.IsLibrary() {
		library = t.Container
	} else if t.Container.IsFolder() && library.IsZero() {
		// Resolve against the tree as it was before the reload collapses it.
		library, _ = r.tree.FindContainerForNestedID(t.Container)
	}

	if err := r.reload(ctx); err != nil {
		return r.fallback(ctx, start, prevLib, prevFolder, err)
	}
	if !library.IsLibrary() {
		return r.fallback(ctx, start, prevLib, prevFolder, errUnresolved(t.Container))
	}
	if _, ok := r.tree.Lookup(library); !ok {
		return r.fallback(ctx, start, prevLib, prevFolder, errUnresolved(library))
	}

	var folder models.ContainerID
	if t.Container.IsFolder() {
		folder = t.Container
		if !r.tree.IsLoaded(library) {
			if _, err := r.tree.LoadChildren(ctx, library); err != nil {
				return r.fallback(ctx, start, prevLib, prevFolder, err)
			}
		}
		if owner, ok := r.tree.FindContainerForNestedID(folder); !ok || owner != library {
			return r.fallback(ctx, start, prevLib, prevFolder, errUnresolved(folder))
		}
	} else if _, err := r.tree.LoadChildren(ctx, library); err != nil {
		// The library itself is still reachable; only its folder list is stale.
		logging.Named("reconcile").Warn("could not expand library after reload", logging.Stringer("library", library), logging.Err(err))
	}

	if err := r.nav.NavigateTo(ctx, library, folder); err != nil {
		return r.fallback(ctx, start, prevLib, prevFolder, err)
	}

	landed := library
	if folder.IsFolder() {
		landed = folder
	}
	r.settle(ctx, landed)
	metrics.RecordReconcile("landed", time.Since(start))
	logging.Named("reconcile").Debug("reconciled", logging.Stringer("target", landed), logging.Duration("took", time.Since(start)))
	return Result{Landed: landed}
}

// RefreshCurrent reloads libraries and re-opens the current location.
func (r *Reconciler) RefreshCurrent(ctx context.Context) Result {
	library, folder := r.nav.Current()
	if library.IsZero() {
		start := time.Now()
		if err := r.reload(ctx); err != nil {
			metrics.RecordReconcile("fallback", time.Since(start))
			return Result{FellBack: true, Err: err}
		}
		r.settle(ctx, models.ContainerID{})
		metrics.RecordReconcile("landed", time.Since(start))
		return Result{}
	}
	target := Target{Container: library, Library: library}
	if folder.IsFolder() {
		target.Container = folder
	}
	return r.Reconcile(ctx, target)
}

func (r *Reconciler) reload(ctx context.Context) error {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logging.Named("reconcile").Warn("library reload failed, retrying",
			logging.Int("attempt", attempt), logging.Err(err), logging.Duration("wait", wait))
	}
	return retry.Do(ctx, cfg, func() error {
		_, err := r.tree.LoadTopLevel(ctx)
		return retry.Retryable(err)
	})
}

// fallback re-opens the pre-operation location without surfacing a further error.
func (r *Reconciler) fallback(ctx context.Context, start time.Time, library, folder models.ContainerID, cause error) Result {
	logging.Named("reconcile").Warn("reconcile fell back to previous location", logging.Err(cause))
	res := Result{FellBack: true, Err: cause}
	if library.IsLibrary() {
		if folder.IsFolder() && !r.tree.IsLoaded(library) {
			r.tree.LoadChildren(ctx, library)
		}
		if err := r.nav.NavigateTo(ctx, library, folder); err != nil {
			logging.Named("reconcile").Warn("refresh of previous location failed", logging.Err(err))
		} else {
			res.Landed = library
			if folder.IsFolder() {
				res.Landed = folder
			}
		}
	}
	r.settle(ctx, res.Landed)
	metrics.RecordReconcile("fallback", time.Since(start))
	return res
}

func (r *Reconciler) settle(ctx context.Context, target models.ContainerID) {
	if r.view == nil {
		return
	}
	if err := r.view.Rendered(ctx, target); err != nil {
		logging.Named("reconcile").Debug("view did not finish rendering", logging.Err(err))
		return
	}
	if r.scroll == nil {
		return
	}
	if offset, ok := r.scroll(); ok {
		r.view.RestoreScroll(offset)
	}
}

type unresolvedError struct {
	id models.ContainerID
}

func (e unresolvedError) Error() string { return "cannot resolve " + e.id.String() + " in the reloaded tree" }

func errUnresolved(id models.ContainerID) error { return unresolvedError{id: id} }
