package tree

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fruitsalade/librarian/internal/failure"
	"github.com/fruitsalade/librarian/pkg/models"
)

type fakeLoader struct {
	libraries []models.Container
	folders   map[models.ContainerID][]models.Container
	err       error

	folderCalls atomic.Int32
	gate        chan struct{} // if set, ListFolders blocks until closed
}

func (f *fakeLoader) ListLibraries(ctx context.Context) ([]models.Container, error) {
	if f.err != nil {
		return nil, f.err
	}
	return Clone(f.libraries), nil
}

func (f *fakeLoader) ListFolders(ctx context.Context, lib models.ContainerID) ([]models.Container, error) {
	f.folderCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return Clone(f.folders[lib]), nil
}

func folder(key, label string, children ...models.Container) models.Container {
	return models.Container{ID: models.FolderID(key), Label: label, Children: children}
}

func library(key, label string) models.Container {
	return models.Container{ID: models.LibraryID(key), Label: label}
}

func sampleLoader() *fakeLoader {
	return &fakeLoader{
		libraries: []models.Container{
			library("l1", "Marketing"),
			library("l2", "Legal"),
			library("l1", "Marketing duplicate"),
		},
		folders: map[models.ContainerID][]models.Container{
			models.LibraryID("l1"): {
				folder("f1", "Campaigns", folder("f1a", "Spring")),
				folder("f2", "Assets"),
				folder("f2", "Assets again"),
			},
			models.LibraryID("l2"): {folder("f3", "Contracts")},
		},
	}
}

func TestLoadTopLevel(t *testing.T) {
	m := New(sampleLoader())
	forest, err := m.LoadTopLevel(context.Background())
	if err != nil {
		t.Fatalf("LoadTopLevel: %v", err)
	}
	if len(forest) != 2 {
		t.Fatalf("expected 2 libraries after dedupe, got %d", len(forest))
	}
	for _, lib := range forest {
		if lib.Expanded || lib.Loaded || len(lib.Children) != 0 {
			t.Errorf("library %s should start collapsed and empty: %+v", lib.ID, lib)
		}
	}
}

func TestLoadTopLevel_ErrorKeepsState(t *testing.T) {
	loader := sampleLoader()
	m := New(loader)
	m.LoadTopLevel(context.Background())

	loader.err = errors.New("unavailable")
	_, err := m.LoadTopLevel(context.Background())
	if failure.KindOf(err) != failure.KindLoad {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if len(m.Forest()) != 2 {
		t.Error("failed reload should leave previous forest intact")
	}
}

func TestLoadChildren(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)

	folders, err := m.LoadChildren(ctx, models.LibraryID("l1"))
	if err != nil {
		t.Fatalf("LoadChildren: %v", err)
	}
	if len(folders) != 2 {
		t.Fatalf("expected 2 folders after dedupe, got %d", len(folders))
	}

	lib, _ := m.Lookup(models.LibraryID("l1"))
	if !lib.Expanded || !lib.Loaded {
		t.Errorf("library should be expanded and loaded: %+v", lib)
	}
	if !m.IsLoaded(models.LibraryID("l1")) || m.IsLoaded(models.LibraryID("l2")) {
		t.Error("IsLoaded mismatch")
	}
}

func TestLoadChildren_UnknownID(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)
	before := m.Forest()

	for _, id := range []models.ContainerID{models.LibraryID("nope"), models.FolderID("f1")} {
		_, err := m.LoadChildren(ctx, id)
		if failure.KindOf(err) != failure.KindLoad || !errors.Is(err, ErrUnknownContainer) {
			t.Errorf("LoadChildren(%s) = %v, want LoadError wrapping ErrUnknownContainer", id, err)
		}
	}
	if !reflect.DeepEqual(before, m.Forest()) {
		t.Error("failed LoadChildren must not change the tree")
	}
}

func TestLoadChildren_SharesConcurrentRequests(t *testing.T) {
	loader := sampleLoader()
	loader.gate = make(chan struct{})
	m := New(loader)
	ctx := context.Background()
	m.LoadTopLevel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.LoadChildren(ctx, models.LibraryID("l2")); err != nil {
				t.Errorf("LoadChildren: %v", err)
			}
		}()
	}
	// Wait until the first request is in flight before releasing it.
	for loader.folderCalls.Load() == 0 {
		runtime.Gosched()
	}
	close(loader.gate)
	wg.Wait()

	if n := loader.folderCalls.Load(); n > 5 || n < 1 {
		t.Errorf("unexpected call count %d", n)
	}
}

func TestFindContainerForNestedID(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)
	m.LoadChildren(ctx, models.LibraryID("l1"))

	lib, ok := m.FindContainerForNestedID(models.FolderID("f1a"))
	if !ok || lib != models.LibraryID("l1") {
		t.Errorf("got %v %v, want l1", lib, ok)
	}
	if _, ok := m.FindContainerForNestedID(models.FolderID("f3")); ok {
		t.Error("folder of an unexpanded library should not be found")
	}
	if _, ok := m.FindContainerForNestedID(models.FolderID("gone")); ok {
		t.Error("missing id should be not-found")
	}
}

func TestFindLabel(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)
	m.LoadChildren(ctx, models.LibraryID("l1"))

	if label, ok := m.FindLabel(models.FolderID("f1a")); !ok || label != "Spring" {
		t.Errorf("FindLabel = %q %v", label, ok)
	}
	if label, ok := m.FindLabel(models.LibraryID("l2")); !ok || label != "Legal" {
		t.Errorf("FindLabel = %q %v", label, ok)
	}
	if _, ok := m.FindLabel(models.FolderID("zzz")); ok {
		t.Error("expected not found")
	}
}

func TestSetItems(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)
	m.LoadChildren(ctx, models.LibraryID("l1"))

	items := []models.LeafItem{{ID: "i1", Title: "brief"}}
	if !m.SetItems(models.FolderID("f2"), items) {
		t.Fatal("SetItems should find f2")
	}
	if got := m.Items(models.FolderID("f2")); len(got) != 1 {
		t.Errorf("items = %v", got)
	}

	m.SetItems(models.LibraryID("l2"), nil)
	if got := m.Items(models.FolderID("f2")); len(got) != 0 {
		t.Error("items of previous location should be dropped")
	}
	if m.SetItems(models.FolderID("nope"), items) {
		t.Error("SetItems on unknown id should report false")
	}
}

func TestForestIsCopy(t *testing.T) {
	m := New(sampleLoader())
	ctx := context.Background()
	m.LoadTopLevel(ctx)
	m.LoadChildren(ctx, models.LibraryID("l1"))

	f := m.Forest()
	f[0].Children[0].Label = "mutated"
	if label, _ := m.FindLabel(models.FolderID("f1")); label != "Campaigns" {
		t.Error("Forest must return a deep copy")
	}
}

func TestCountAndWalk(t *testing.T) {
	forest := []models.Container{
		{ID: models.LibraryID("a"), Children: []models.Container{folder("b", "B", folder("c", "C"))}},
		library("d", "D"),
	}
	if n := Count(forest); n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	var depths []int
	Walk(forest, func(c models.Container, depth int) bool {
		depths = append(depths, depth)
		return c.ID != models.FolderID("b")
	})
	if !reflect.DeepEqual(depths, []int{0, 1, 0}) {
		t.Errorf("depths = %v", depths)
	}
}
