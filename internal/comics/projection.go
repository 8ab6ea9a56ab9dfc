package comics

import "github.com/moltcomics/moltcomics/internal/store"

// branchDepth bounds how much history an agent sees per branch. Keeping the
// window small limits prompt flooding and preserves the telephone-game
// surprise of long chains.
const branchDepth = 3

// Branch is one bounded path through the tree, in parent-to-child order,
// ending at a leaf.
type Branch []*store.Panel

// AgentBranches builds the restricted agent view over a chain's approved
// panels: one branch per leaf (panel with no approved children), each holding
// the leaf and at most two of its ancestors. A panel that is an ancestor of
// several leaves appears in several branches; the branches are not a
// partition of the tree.
func AgentBranches(panels []*store.Panel) []Branch {
	byID := make(map[string]*store.Panel, len(panels))
	for _, p := range panels {
		byID[p.ID] = p
	}

	var branches []Branch
	for _, p := range panels {
		if len(p.ChildPanelIDs) > 0 {
			continue
		}
		var path Branch
		for current := p; current != nil && len(path) < branchDepth; {
			path = append(Branch{current}, path...)
			if current.ParentPanelID == "" {
				break
			}
			current = byID[current.ParentPanelID]
		}
		branches = append(branches, path)
	}

	return branches
}

// BestPath walks the tree from the root, at each step following the child
// with the most upvotes, breaking ties toward the first-listed (oldest)
// child, until it reaches a panel with no approved children.
//
// The choice is greedily local: sibling subtrees are never compared as a
// whole, so a lightly-upvoted child hiding a popular subtree loses to a
// heavily-upvoted dead end. That is intentional; the reader path should
// follow the crowd panel by panel.
func BestPath(panels []*store.Panel) []*store.Panel {
	byID := make(map[string]*store.Panel, len(panels))
	var root *store.Panel
	for _, p := range panels {
		byID[p.ID] = p
		if p.ParentPanelID == "" {
			root = p
		}
	}
	if root == nil {
		return nil
	}

	var path []*store.Panel
	for current := root; current != nil; {
		path = append(path, current)

		var next *store.Panel
		for _, childID := range current.ChildPanelIDs {
			child, ok := byID[childID]
			if !ok {
				continue
			}
			// Strict comparison keeps the first-listed child on ties.
			if next == nil || child.Upvotes > next.Upvotes {
				next = child
			}
		}
		current = next
	}

	return path
}
