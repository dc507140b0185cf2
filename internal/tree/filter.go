package tree

import (
	"strings"

	"github.com/fruitsalade/librarian/pkg/models"
)

// Filter returns the part of forest matching query. A node is kept when its
// label contains the query (case-insensitive) or when any descendant is kept.
// Kept nodes carry only their kept children and are expanded exactly when they
// have some. Whitespace in query is significant. An empty query returns a copy of the whole forest with each
// library expanded when its folders are loaded and non-empty.
//
// Filter never modifies forest.
func Filter(forest []models.Container, query string) []models.Container {
	if query == "" {
		return expandLoaded(forest)
	}
	q := strings.ToLower(query)
	var out []models.Container
	for _, c := range forest {
		if kept, ok := filterNode(c, q); ok {
			out = append(out, kept)
		}
	}
	return out
}

func filterNode(c models.Container, q string) (models.Container, bool) {
	var children []models.Container
	for _, child := range c.Children {
		if kept, ok := filterNode(child, q); ok {
			children = append(children, kept)
		}
	}
	if len(children) == 0 && !strings.Contains(strings.ToLower(c.Label), q) {
		return models.Container{}, false
	}
	out := c
	out.Items = append([]models.LeafItem(nil), c.Items...)
	out.Children = children
	out.Expanded = len(children) > 0
	return out, true
}

func expandLoaded(forest []models.Container) []models.Container {
	out := Clone(forest)
	for i := range out {
		out[i].Expanded = len(out[i].Children) > 0
	}
	return out
}
