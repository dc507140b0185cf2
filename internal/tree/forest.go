// Package tree holds the in-memory registry of libraries and their folders.
package tree

import "github.com/fruitsalade/librarian/pkg/models"

// Find returns a copy of the container with the given id (recursive).
func Find(forest []models.Container, id models.ContainerID) (models.Container, bool) {
	if c := findPtr(forest, id); c != nil {
		return c.Clone(), true
	}
	return models.Container{}, false
}

func findPtr(nodes []models.Container, id models.ContainerID) *models.Container {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
		if found := findPtr(nodes[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

// FindLibraryFor returns the library that contains id. A library id resolves to itself.
func FindLibraryFor(forest []models.Container, id models.ContainerID) (models.ContainerID, bool) {
	for i := range forest {
		if forest[i].ID == id {
			return forest[i].ID, true
		}
		if findPtr(forest[i].Children, id) != nil {
			return forest[i].ID, true
		}
	}
	return models.ContainerID{}, false
}

// FindLabel returns the label of the container with the given id.
func FindLabel(forest []models.Container, id models.ContainerID) (string, bool) {
	if c := findPtr(forest, id); c != nil {
		return c.Label, true
	}
	return "", false
}

// Count counts all containers in the forest.
func Count(forest []models.Container) int {
	n := 0
	for i := range forest {
		n += 1 + Count(forest[i].Children)
	}
	return n
}

// Walk visits every container depth-first. Returning false from fn skips its children.
func Walk(forest []models.Container, fn func(c models.Container, depth int) bool) {
	walk(forest, 0, fn)
}

func walk(nodes []models.Container, depth int, fn func(models.Container, int) bool) {
	for _, c := range nodes {
		if fn(c, depth) {
			walk(c.Children, depth+1, fn)
		}
	}
}

// Clone deep-copies a forest.
func Clone(forest []models.Container) []models.Container {
	if forest == nil {
		return nil
	}
	out := make([]models.Container, len(forest))
	for i, c := range forest {
		out[i] = c.Clone()
	}
	return out
}

// dedupe drops entries without an id and repeated ids, keeping the first, at every level.
func dedupe(nodes []models.Container) []models.Container {
	seen := make(map[models.ContainerID]struct{}, len(nodes))
	out := make([]models.Container, 0, len(nodes))
	for _, c := range nodes {
		if c.ID.IsZero() {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		c.Children = dedupe(c.Children)
		out = append(out, c)
	}
	return out
}

// clearItems drops loaded items everywhere in the forest.
func clearItems(nodes []models.Container) {
	for i := range nodes {
		nodes[i].Items = nil
		clearItems(nodes[i].Children)
	}
}
