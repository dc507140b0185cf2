package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestPutGetDelete(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	if err := b.PutObject(ctx, "items/abc", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if ok, _ := b.ObjectExists(ctx, "items/abc"); !ok {
		t.Fatal("object should exist")
	}

	rc, size, err := b.GetObject(ctx, "items/abc", 6, 0)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "world" || size != 5 {
		t.Errorf("range read = %q (%d)", data, size)
	}

	rc, size, err = b.GetObject(ctx, "items/abc", 0, 5)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" || size != 5 {
		t.Errorf("limited read = %q (%d)", data, size)
	}

	if err := b.DeleteObject(ctx, "items/abc"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := b.DeleteObject(ctx, "items/abc"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if _, _, err := b.GetObject(ctx, "items/abc", 0, 0); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestPutShortBodyLeavesNothing(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	if err := b.PutObject(ctx, "items/short", strings.NewReader("abc"), 10); err == nil {
		t.Fatal("expected a size mismatch error")
	}
	if ok, _ := b.ObjectExists(ctx, "items/short"); ok {
		t.Error("a failed put must not leave an object behind")
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	b := newBackend(t)
	for _, key := range []string{"", "../etc/passwd", "items/../../x", "/abs"} {
		if err := b.PutObject(context.Background(), key, strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("PutObject(%q) err = %v", key, err)
		}
	}
}
