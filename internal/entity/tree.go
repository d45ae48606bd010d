package entity

import (
	"sort"

	"github.com/boddenberg/atas-admin-go/internal/domain"
)

// BuildMenuTree turns a flat item list into a forest. A node whose parent id
// is nil, empty or unknown becomes a root. Roots and children are sorted by
// OrderIndex. Parent cycles are not detected: nodes on a cycle never reach a
// root and are left out of the result.
func BuildMenuTree(items []domain.MenuItem) []*domain.MenuItem {
	nodes := make(map[string]*domain.MenuItem, len(items))
	order := make([]*domain.MenuItem, 0, len(items))
	for _, it := range items {
		n := it
		n.Children = []*domain.MenuItem{}
		nodes[n.ID] = &n
		order = append(order, &n)
	}

	roots := []*domain.MenuItem{}
	for _, n := range order {
		if n.ParentID != nil && *n.ParentID != "" {
			if parent, ok := nodes[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	sortTree(roots)
	return roots
}

func sortTree(nodes []*domain.MenuItem) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].OrderIndex < nodes[j].OrderIndex })
	for _, n := range nodes {
		sortTree(n.Children)
	}
}
