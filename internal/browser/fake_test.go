package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
	"github.com/fruitsalade/librarian/pkg/retry"
)

var errBackend = errors.New("backend unavailable")

// fakeBackend serves a fixed tree and records every call.
type fakeBackend struct {
	mu        sync.Mutex
	libraries []models.Container
	folders   map[models.ContainerID][]models.Container
	items     map[models.ContainerID][]models.LeafItem
	gates     map[models.ContainerID]chan struct{} // blocks ListItems for a container

	libraryErrs []error // consumed one per ListLibraries call
	listErr     error

	smart    func(ids []string, dest models.ContainerID) (models.MoveResult, error)
	add      func(ids []string, lib models.ContainerID) (models.MoveResult, error)
	toFolder func(ids []string, folder, lib models.ContainerID) (models.MoveResult, error)
	del      func(ids []string) (models.DeleteResult, error)

	calls []string
}

func newFake() *fakeBackend {
	return &fakeBackend{
		libraries: []models.Container{
			{ID: models.LibraryID("l1"), Label: "Finance"},
			{ID: models.LibraryID("l2"), Label: "Legal"},
		},
		folders: map[models.ContainerID][]models.Container{
			models.LibraryID("l1"): {{ID: models.FolderID("f1"), Label: "Invoices"}},
			models.LibraryID("l2"): {{ID: models.FolderID("f2"), Label: "Contracts"}},
		},
		items: map[models.ContainerID][]models.LeafItem{
			models.LibraryID("l1"): {{ID: "doc-1", Title: "Report"}},
			models.FolderID("f2"):  {{ID: "doc-2", Title: "NDA"}},
		},
		gates: map[models.ContainerID]chan struct{}{},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) ListLibraries(ctx context.Context) ([]models.Container, error) {
	f.record("libraries")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.libraryErrs) > 0 {
		err := f.libraryErrs[0]
		f.libraryErrs = f.libraryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]models.Container(nil), f.libraries...), nil
}

func (f *fakeBackend) ListFolders(ctx context.Context, library models.ContainerID) ([]models.Container, error) {
	f.record("folders")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Container(nil), f.folders[library]...), nil
}

func (f *fakeBackend) ListItems(ctx context.Context, library, folder models.ContainerID) (protocol.ItemsResponse, error) {
	f.record("items")
	target := library
	if folder.IsFolder() {
		target = folder
	}
	f.mu.Lock()
	gate := f.gates[target]
	err := f.listErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return protocol.ItemsResponse{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	crumbs := []models.Breadcrumb{{ID: library, Label: labelOf(f.libraries, library)}}
	if folder.IsFolder() {
		crumbs = append(crumbs, models.Breadcrumb{ID: folder, Label: labelOf(f.folders[library], folder)})
	}
	return protocol.ItemsResponse{
		Items:       append([]models.LeafItem(nil), f.items[target]...),
		Breadcrumbs: crumbs,
	}, nil
}

func labelOf(list []models.Container, id models.ContainerID) string {
	for _, c := range list {
		if c.ID == id {
			return c.Label
		}
	}
	return ""
}

func (f *fakeBackend) SmartMove(ctx context.Context, ids []string, dest models.ContainerID) (models.MoveResult, error) {
	f.record("smart")
	if f.smart == nil {
		return models.MoveResult{Success: true, SuccessCount: len(ids)}, nil
	}
	return f.smart(ids, dest)
}

func (f *fakeBackend) AddToLibrary(ctx context.Context, ids []string, lib models.ContainerID) (models.MoveResult, error) {
	f.record("add")
	if f.add == nil {
		return models.MoveResult{Success: true, SuccessCount: len(ids)}, nil
	}
	return f.add(ids, lib)
}

func (f *fakeBackend) MoveToFolder(ctx context.Context, ids []string, folder, lib models.ContainerID) (models.MoveResult, error) {
	f.record("folder")
	if f.toFolder == nil {
		return models.MoveResult{Success: true, SuccessCount: len(ids)}, nil
	}
	return f.toFolder(ids, folder, lib)
}

func (f *fakeBackend) DeleteItems(ctx context.Context, ids []string) (models.DeleteResult, error) {
	f.record("delete")
	if f.del != nil {
		return f.del(ids)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var res models.DeleteResult
	for _, id := range ids {
		if f.removeItem(id) {
			res.SuccessCount++
		} else {
			res.Errors = append(res.Errors, id+": not found")
		}
	}
	res.Success = len(res.Errors) == 0
	return res, nil
}

func (f *fakeBackend) removeItem(id string) bool {
	found := false
	for c, list := range f.items {
		kept := list[:0:0]
		for _, it := range list {
			if it.ID == id {
				found = true
				continue
			}
			kept = append(kept, it)
		}
		f.items[c] = kept
	}
	return found
}

func (f *fakeBackend) CreateFolder(ctx context.Context, name string, library, parent models.ContainerID) (models.Container, error) {
	f.record("mkdir")
	f.mu.Lock()
	defer f.mu.Unlock()
	c := models.Container{ID: models.FolderID("new-" + name), Label: name}
	f.folders[library] = append(f.folders[library], c)
	return c, nil
}

// twoStepTo returns a smart move that asks for a two-step move into folder f2 of l2.
func twoStepTo() func([]string, models.ContainerID) (models.MoveResult, error) {
	return func([]string, models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{
			RequiresTwoStep:   true,
			TargetLibraryID:   models.LibraryID("l2"),
			TargetLibraryName: "Legal",
			TargetFolderID:    models.FolderID("f2"),
			TargetFolderName:  "Contracts",
		}, nil
	}
}

type fakeView struct {
	mu       sync.Mutex
	rendered []models.ContainerID
	restored []int
}

func (v *fakeView) Rendered(ctx context.Context, target models.ContainerID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rendered = append(v.rendered, target)
	return nil
}

func (v *fakeView) RestoreScroll(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restored = append(v.restored, offset)
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

// newTestSession starts a session and opens library l1 with doc-1 selected.
func newTestSession(f *fakeBackend, rec *notify.Recorder, opts Options) *Session {
	opts.Sink = rec
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = testRetry()
	}
	s := NewSession(f, opts)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		panic(err)
	}
	if err := s.Select(ctx, models.LibraryID("l1")); err != nil {
		panic(err)
	}
	s.SelectItems("doc-1")
	return s
}
