package catalog

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// snapshot is the slice of catalog state a plan works on. The memory store
// keeps one for everything; the postgres store loads one per request.
type snapshot struct {
	libraries   map[string]Library
	folders     map[string]Folder
	items       map[string]Item
	memberships map[string][]Membership // by item id
}

func newSnapshot() *snapshot {
	return &snapshot{
		libraries:   make(map[string]Library),
		folders:     make(map[string]Folder),
		items:       make(map[string]Item),
		memberships: make(map[string][]Membership),
	}
}

// changes maps an item id to its complete new membership list.
type changes map[string][]Membership

func (s *snapshot) apply(c changes) {
	for id, ms := range c {
		s.memberships[id] = ms
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// ─── Moves ──────────────────────────────────────────────────────────────────

// planSmartMove moves items to a library root or into a folder. Moving into a
// folder of a library an item is not yet a member of is refused as a whole
// with a two-step plan, and nothing changes.
func planSmartMove(s *snapshot, ids []string, dest models.ContainerID) (models.MoveResult, changes) {
	switch {
	case dest.IsLibrary():
		lib, ok := s.libraries[dest.Key]
		if !ok {
			return models.MoveResult{Errors: []string{"Target library not found"}}, nil
		}
		return s.file(ids, lib, Folder{}, true)

	case dest.IsFolder():
		folder, ok := s.folders[dest.Key]
		if !ok {
			return models.MoveResult{Errors: []string{"Target folder not found"}}, nil
		}
		lib := s.libraries[folder.LibraryID]
		for _, id := range ids {
			if _, ok := s.items[id]; ok && !s.isMember(id, lib.ID) {
				return models.MoveResult{
					RequiresTwoStep:   true,
					TargetLibraryID:   models.LibraryID(lib.ID),
					TargetLibraryName: lib.Name,
					TargetFolderID:    models.FolderID(folder.ID),
					TargetFolderName:  folder.Name,
				}, nil
			}
		}
		return s.file(ids, lib, folder, true)

	default:
		return models.MoveResult{Errors: []string{"Invalid destination"}}, nil
	}
}

// planAddToLibrary gives each item a shared membership at the root of a
// library. Items already in the library are left as they are. Shared
// memberships the items keep in other libraries are reported as notes.
func planAddToLibrary(s *snapshot, ids []string, library string) (models.MoveResult, changes) {
	lib, ok := s.libraries[library]
	if !ok {
		return models.MoveResult{Errors: []string{"Target library not found"}}, nil
	}
	var res models.MoveResult
	c := changes{}
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: item not found", id))
			continue
		}
		res.SuccessCount++
		for _, m := range s.memberships[id] {
			if !m.Owner && m.LibraryID != lib.ID {
				res.Errors = append(res.Errors, fmt.Sprintf("%q remains shared in %s", it.Title, s.libraries[m.LibraryID].Name))
			}
		}
		if !s.isMember(id, lib.ID) {
			c[id] = append(s.current(c, id), Membership{ItemID: id, LibraryID: lib.ID})
		}
	}
	res.Success = res.SuccessCount > 0
	res.PartialSuccess = res.Success && len(res.Errors) > 0
	return res, c
}

// planMoveToFolder files items into a folder of a library they are already
// members of. The membership there becomes the owner and the previous owner
// membership in another library is dropped.
func planMoveToFolder(s *snapshot, ids []string, folder, library string) (models.MoveResult, changes) {
	f, ok := s.folders[folder]
	if !ok {
		return models.MoveResult{Errors: []string{"Target folder not found"}}, nil
	}
	if library != "" && f.LibraryID != library {
		return models.MoveResult{Errors: []string{"Folder does not belong to the target library"}}, nil
	}
	lib := s.libraries[f.LibraryID]

	var res models.MoveResult
	var eligible []string
	for _, id := range ids {
		it, ok := s.items[id]
		switch {
		case !ok:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: item not found", id))
		case !s.isMember(id, lib.ID):
			res.Errors = append(res.Errors, fmt.Sprintf("%q is not in %s", it.Title, lib.Name))
		default:
			eligible = append(eligible, id)
		}
	}
	moved, c := s.file(eligible, lib, f, false)
	res.SuccessCount = moved.SuccessCount
	res.Success = res.SuccessCount > 0
	res.PartialSuccess = res.Success && len(res.Errors) > 0
	return res, c
}

// file makes lib (and folder, when set) the owner location of each item.
// With notes, shared memberships left in other libraries are reported.
func (s *snapshot) file(ids []string, lib Library, folder Folder, notes bool) (models.MoveResult, changes) {
	var res models.MoveResult
	c := changes{}
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: item not found", id))
			continue
		}
		var next []Membership
		for _, m := range s.current(c, id) {
			if m.LibraryID == lib.ID || m.Owner {
				continue
			}
			next = append(next, m)
			if notes {
				res.Errors = append(res.Errors, fmt.Sprintf("%q remains shared in %s", it.Title, s.libraries[m.LibraryID].Name))
			}
		}
		next = append(next, Membership{ItemID: id, LibraryID: lib.ID, FolderID: folder.ID, Owner: true})
		c[id] = next
		res.SuccessCount++
	}
	res.Success = res.SuccessCount > 0
	res.PartialSuccess = res.Success && len(res.Errors) > 0
	return res, c
}

func (s *snapshot) current(c changes, id string) []Membership {
	if ms, ok := c[id]; ok {
		return append([]Membership(nil), ms...)
	}
	return append([]Membership(nil), s.memberships[id]...)
}

func (s *snapshot) isMember(item, library string) bool {
	for _, m := range s.memberships[item] {
		if m.LibraryID == library {
			return true
		}
	}
	return false
}

// ─── Deletes ────────────────────────────────────────────────────────────────

func planDelete(s *snapshot, ids []string) (models.DeleteResult, []Item) {
	var res models.DeleteResult
	var removed []Item
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		it, ok := s.items[id]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: not found", id))
			continue
		}
		removed = append(removed, it)
		res.SuccessCount++
	}
	res.Success = len(res.Errors) == 0
	return res, removed
}

// ─── Listings ───────────────────────────────────────────────────────────────

func libraryContainers(s *snapshot) []models.Container {
	out := make([]models.Container, 0, len(s.libraries))
	for _, lib := range s.libraries {
		out = append(out, models.Container{ID: models.LibraryID(lib.ID), Label: lib.Name})
	}
	sortByLabel(out)
	return out
}

// folderTree nests the folders of library under their parents.
func folderTree(s *snapshot, library string) []models.Container {
	byParent := make(map[string][]Folder)
	for _, f := range s.folders {
		if f.LibraryID == library {
			byParent[f.ParentID] = append(byParent[f.ParentID], f)
		}
	}
	var build func(parent string, depth int) []models.Container
	build = func(parent string, depth int) []models.Container {
		if depth > len(s.folders) {
			return nil
		}
		var out []models.Container
		for _, f := range byParent[parent] {
			out = append(out, models.Container{
				ID:       models.FolderID(f.ID),
				Label:    f.Name,
				Children: build(f.ID, depth+1),
			})
		}
		sortByLabel(out)
		return out
	}
	return build("", 0)
}

// listing returns the items filed directly in folder, or at the root of
// library when folder is empty.
func listing(s *snapshot, library, folder string) (protocol.ItemsResponse, error) {
	lib, ok := s.libraries[library]
	if !ok {
		return protocol.ItemsResponse{}, notFound("library", library)
	}
	crumbs := []models.Breadcrumb{{ID: models.LibraryID(lib.ID), Label: lib.Name}}
	if folder != "" {
		f, ok := s.folders[folder]
		if !ok || f.LibraryID != library {
			return protocol.ItemsResponse{}, notFound("folder", folder)
		}
		crumbs = append(crumbs, folderChain(s, f)...)
	}

	items := []models.LeafItem{}
	for id, ms := range s.memberships {
		for _, m := range ms {
			if m.LibraryID == library && m.FolderID == folder {
				if it, ok := s.items[id]; ok {
					items = append(items, it.Leaf())
				}
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].ID < items[j].ID
	})

	names := make([]string, len(crumbs))
	for i, c := range crumbs {
		names[i] = c.Label
	}
	return protocol.ItemsResponse{
		Items:       items,
		Breadcrumbs: crumbs,
		Path:        fmt.Sprintf("%s (%d files)", strings.Join(names, " > "), len(items)),
	}, nil
}

// folderChain returns breadcrumbs from the library root down to f.
func folderChain(s *snapshot, f Folder) []models.Breadcrumb {
	var chain []models.Breadcrumb
	cur := f
	for i := 0; i <= len(s.folders); i++ {
		chain = append(chain, models.Breadcrumb{ID: models.FolderID(cur.ID), Label: cur.Name})
		parent, ok := s.folders[cur.ParentID]
		if cur.ParentID == "" || !ok {
			break
		}
		cur = parent
	}
	slices.Reverse(chain)
	return chain
}

func sortByLabel(list []models.Container) {
	sort.Slice(list, func(i, j int) bool {
		a, b := strings.ToLower(list[i].Label), strings.ToLower(list[j].Label)
		if a != b {
			return a < b
		}
		return list[i].ID.Key < list[j].ID.Key
	})
}

// ─── Validation ─────────────────────────────────────────────────────────────

func validateFolder(s *snapshot, name, library, parent string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: folder name is required", ErrInvalid)
	}
	if _, ok := s.libraries[library]; !ok {
		return "", notFound("library", library)
	}
	if parent != "" {
		p, ok := s.folders[parent]
		if !ok {
			return "", notFound("folder", parent)
		}
		if p.LibraryID != library {
			return "", fmt.Errorf("%w: parent folder is in another library", ErrInvalid)
		}
	}
	for _, f := range s.folders {
		if f.LibraryID == library && f.ParentID == parent && strings.EqualFold(f.Name, name) {
			return "", fmt.Errorf("%w: folder %q already exists", ErrInvalid, name)
		}
	}
	return name, nil
}

func validateLibrary(s *snapshot, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: library name is required", ErrInvalid)
	}
	for _, lib := range s.libraries {
		if strings.EqualFold(lib.Name, name) {
			return "", fmt.Errorf("%w: library %q already exists", ErrInvalid, name)
		}
	}
	return name, nil
}

func validatePlacement(s *snapshot, library, folder string) error {
	if _, ok := s.libraries[library]; !ok {
		return notFound("library", library)
	}
	if folder != "" {
		f, ok := s.folders[folder]
		if !ok || f.LibraryID != library {
			return notFound("folder", folder)
		}
	}
	return nil
}
