// Package navigation tracks where the user is in the content tree and which
// items they have selected there.
package navigation

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/fruitsalade/librarian/pkg/models"
)

// Phase is the state of the navigation machine.
type Phase int

const (
	Unselected Phase = iota
	ViewingTopLevel
	ViewingNested
	Navigating
)

func (p Phase) String() string {
	switch p {
	case ViewingTopLevel:
		return "viewing-library"
	case ViewingNested:
		return "viewing-folder"
	case Navigating:
		return "navigating"
	default:
		return "unselected"
	}
}

const (
	separator          = " > "
	defaultLocation    = "Current location"
	defaultDisplayName = "Select a library or folder"
)

var (
	// ErrNoLibrary refuses a folder transition whose library is unknown.
	ErrNoLibrary = errors.New("could not find library for selected folder")
	// ErrInvalidTarget refuses a transition to something that is not a library.
	ErrInvalidTarget = errors.New("navigation target must be a library or a folder inside one")

	fileCountSuffix = regexp.MustCompile(`\s*\(\d+ files?\)\s*$`)
)

// Ticket identifies one navigation. Results carrying an outdated ticket are discarded.
type Ticket struct {
	seq     uint64
	Library models.ContainerID
	Folder  models.ContainerID
}

// Listing is what a completed navigation applies.
type Listing struct {
	Breadcrumbs []models.Breadcrumb
	Path        string
}

// View is an immutable snapshot of the state.
type View struct {
	Phase         Phase
	Library       models.ContainerID
	Folder        models.ContainerID
	Breadcrumbs   []models.Breadcrumb
	Path          string
	LocationLabel string
	DisplayName   string
	Selected      []string
}

// State is the navigation state machine. It is safe for concurrent use.
type State struct {
	mu          sync.Mutex
	phase       Phase
	seq         uint64
	library     models.ContainerID
	folder      models.ContainerID
	breadcrumbs []models.Breadcrumb
	path        string
	label       string
	selected    []string
}

// New returns a state in Unselected.
func New() *State {
	return &State{}
}

// Begin starts navigating to a library, or to a folder inside library. A folder
// without a known library is refused and the state is left unchanged.
func (s *State) Begin(library, folder models.ContainerID) (Ticket, error) {
	if !folder.IsZero() && !folder.IsFolder() {
		return Ticket{}, ErrInvalidTarget
	}
	if !library.IsLibrary() {
		if folder.IsFolder() {
			return Ticket{}, ErrNoLibrary
		}
		return Ticket{}, ErrInvalidTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.phase = Navigating
	s.library = library
	s.folder = folder
	s.selected = nil
	return Ticket{seq: s.seq, Library: library, Folder: folder}, nil
}

// Complete applies a listing for t. It returns false and changes nothing if a
// newer navigation has begun since t was issued.
func (s *State) Complete(t Ticket, l Listing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.seq != s.seq {
		return false
	}
	if t.Folder.IsFolder() {
		s.phase = ViewingNested
	} else {
		s.phase = ViewingTopLevel
	}
	s.breadcrumbs = append([]models.Breadcrumb(nil), l.Breadcrumbs...)
	s.path = l.Path
	s.label = locationLabel(t.Library, t.Folder, s.breadcrumbs, s.path)
	s.selected = nil
	return true
}

// Fail resets the view after a failed navigation. Stale tickets are ignored.
func (s *State) Fail(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.seq != s.seq {
		return false
	}
	s.reset()
	return true
}

// Reset returns to Unselected and invalidates any navigation in flight.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.reset()
}

func (s *State) reset() {
	s.phase = Unselected
	s.library = models.ContainerID{}
	s.folder = models.ContainerID{}
	s.breadcrumbs = nil
	s.path = ""
	s.label = ""
	s.selected = nil
}

// Current returns the library and folder being viewed or navigated to.
func (s *State) Current() (library, folder models.ContainerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.library, s.folder
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ─── Selection ──────────────────────────────────────────────────────────────

// Select replaces the selection. Duplicates and empty ids are dropped.
func (s *State) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	for _, id := range ids {
		if id != "" && !contains(s.selected, id) {
			s.selected = append(s.selected, id)
		}
	}
}

// Toggle adds id to the selection, or removes it if present.
func (s *State) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sel := range s.selected {
		if sel == id {
			s.selected = append(s.selected[:i:i], s.selected[i+1:]...)
			return
		}
	}
	s.selected = append(s.selected, id)
}

// Clear empties the selection.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

// Selected returns a copy of the selected item ids.
func (s *State) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selected...)
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// ─── Display names ──────────────────────────────────────────────────────────

// LocationLabel returns the human name of the current location.
func (s *State) LocationLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.label == "" {
		return defaultLocation
	}
	return s.label
}

// DisplayName returns the last segment of the location label without a file count.
func (s *State) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return displayName(s.label)
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	label := s.label
	if label == "" {
		label = defaultLocation
	}
	return View{
		Phase:         s.phase,
		Library:       s.library,
		Folder:        s.folder,
		Breadcrumbs:   append([]models.Breadcrumb(nil), s.breadcrumbs...),
		Path:          s.path,
		LocationLabel: label,
		DisplayName:   displayName(s.label),
		Selected:      append([]string(nil), s.selected...),
	}
}

func locationLabel(library, folder models.ContainerID, crumbs []models.Breadcrumb, path string) string {
	var libName, folderName string
	for _, c := range crumbs {
		switch c.ID {
		case library:
			libName = c.Label
		case folder:
			folderName = c.Label
		}
	}
	if libName != "" && folderName != "" {
		return libName + separator + folderName
	}
	if path != "" && path != "Unknown Path" && path != "Unknown Library" {
		return path
	}
	if len(crumbs) > 0 {
		names := make([]string, len(crumbs))
		for i, c := range crumbs {
			names[i] = c.Label
		}
		return strings.Join(names, separator)
	}
	return defaultLocation
}

func displayName(label string) string {
	if label == "" || label == defaultLocation {
		return defaultDisplayName
	}
	parts := strings.Split(label, separator)
	last := strings.TrimSpace(fileCountSuffix.ReplaceAllString(parts[len(parts)-1], ""))
	if last == "" {
		return defaultDisplayName
	}
	return last
}
