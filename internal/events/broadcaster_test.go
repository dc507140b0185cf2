package events

import (
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(protocol.Event{Type: EventMove, ItemIDs: []string{"doc-1"}, Container: models.FolderID("f2")})

	for i, ch := range []chan protocol.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != EventMove || got.Container != models.FolderID("f2") {
				t.Errorf("subscriber %d: got %+v", i, got)
			}
			if got.Timestamp == 0 {
				t.Errorf("subscriber %d: expected non-zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(protocol.Event{Type: EventDelete})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d events, want %d", len(ch), cap(ch))
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(protocol.Event{Type: EventCreate, Container: models.LibraryID("l1"), Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"container":"library:l1"`) {
		t.Errorf("json = %s", data)
	}
}
