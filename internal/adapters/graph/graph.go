package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
)

// Graph is an arena of stage nodes indexed by id. Each node has at most one
// parent; groups own their children in list order.
type Graph struct {
	mu     sync.RWMutex
	root   string
	nodes  map[string]*domain.StageNode
	parent map[string]string
}

func New() *Graph {
	return &Graph{
		nodes:  make(map[string]*domain.StageNode),
		parent: make(map[string]string),
	}
}

// FromNodes rebuilds a graph from a flat node list such as the one stored in
// a run record.
func FromNodes(root string, nodes []domain.StageNode) (*Graph, error) {
	index := make(map[string]domain.StageNode, len(nodes))
	for _, n := range nodes {
		if _, dup := index[n.ID]; dup {
			return nil, domain.NewStructureError(n.ID, "duplicate stage id")
		}
		index[n.ID] = n
	}

	rootNode, ok := index[root]
	if !ok {
		return nil, domain.NewStructureError(root, "root stage not found")
	}

	g := New()
	if err := g.SetRoot(rootNode); err != nil {
		return nil, err
	}

	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, childID := range index[id].Children {
			child, ok := index[childID]
			if !ok {
				return nil, domain.NewStructureError(id, fmt.Sprintf("child %q not found", childID))
			}
			if err := g.AddChild(id, child); err != nil {
				return nil, err
			}
			queue = append(queue, childID)
		}
	}

	if len(g.nodes) != len(index) {
		return nil, domain.NewStructureError("", "graph contains stages unreachable from the root")
	}
	return g, nil
}

func (g *Graph) SetRoot(node domain.StageNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.root != "" {
		return domain.NewStructureError(node.ID, fmt.Sprintf("graph already has root %q", g.root))
	}
	if err := checkNode(node); err != nil {
		return err
	}

	n := detach(node)
	g.nodes[n.ID] = &n
	g.root = n.ID
	return nil
}

// AddChild appends node to the children of parentID. It fails with a
// CycleError when the node id is the parent or one of its ancestors, or when
// the id is already attached anywhere in the graph.
func (g *Graph) AddChild(parentID string, node domain.StageNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent, ok := g.nodes[parentID]
	if !ok {
		return domain.NewStructureError(parentID, "unknown parent stage")
	}
	if !parent.Kind.IsGroup() {
		return domain.NewStructureError(parentID, "leaf stages cannot have children")
	}
	if err := checkNode(node); err != nil {
		return err
	}

	for id := parentID; id != ""; id = g.parent[id] {
		if id == node.ID {
			return &domain.CycleError{ParentID: parentID, ChildID: node.ID, Reason: "would create a cycle"}
		}
	}
	if _, exists := g.nodes[node.ID]; exists {
		return &domain.CycleError{
			ParentID: parentID,
			ChildID:  node.ID,
			Reason:   fmt.Sprintf("stage is already attached under %q", g.parent[node.ID]),
		}
	}

	n := detach(node)
	g.nodes[n.ID] = &n
	g.parent[n.ID] = parentID
	parent.Children = append(parent.Children, n.ID)
	return nil
}

// Validate accepts the graph iff it has a root, every stage is reachable and
// owned once, it is acyclic, and no approval gate sits beneath a parallel
// group.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.root == "" {
		return domain.NewStructureError("", "pipeline has no root stage")
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	owner := make(map[string]string, len(g.nodes))

	var visit func(id string, parallelAncestor string) error
	visit = func(id string, parallelAncestor string) error {
		n, ok := g.nodes[id]
		if !ok {
			return domain.NewStructureError(id, "referenced stage does not exist")
		}
		switch color[id] {
		case grey:
			return &domain.CycleError{ParentID: owner[id], ChildID: id, Reason: "cycle detected"}
		case black:
			return domain.NewStructureError(id, "stage is owned by more than one group")
		}
		color[id] = grey

		if n.Kind == domain.StageKindLeaf && len(n.Children) > 0 {
			return domain.NewStructureError(id, "leaf stages cannot have children")
		}
		if n.ApprovalRequired() && parallelAncestor != "" {
			return domain.NewStructureError(id, fmt.Sprintf("approval gate inside parallel group %q", parallelAncestor))
		}

		next := parallelAncestor
		if n.Kind == domain.StageKindParallel && next == "" {
			next = id
		}
		for _, childID := range n.Children {
			if color[childID] == grey {
				return &domain.CycleError{ParentID: id, ChildID: childID, Reason: "cycle detected"}
			}
			owner[childID] = id
			if err := visit(childID, next); err != nil {
				return err
			}
		}

		color[id] = black
		return nil
	}

	if err := visit(g.root, ""); err != nil {
		return err
	}

	if len(color) != len(g.nodes) {
		var orphans []string
		for id := range g.nodes {
			if _, seen := color[id]; !seen {
				orphans = append(orphans, id)
			}
		}
		sort.Strings(orphans)
		return domain.NewStructureError(orphans[0], "stage is unreachable from the root")
	}
	return nil
}

func (g *Graph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

func (g *Graph) Node(id string) (domain.StageNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return domain.StageNode{}, false
	}
	return clone(*n), true
}

func (g *Graph) Parent(id string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.parent[id]
	return p, ok
}

// Nodes returns every stage in depth-first pre-order starting at the root.
func (g *Graph) Nodes() []domain.StageNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.StageNode, 0, len(g.nodes))
	g.walk(g.root, func(n *domain.StageNode) {
		out = append(out, clone(*n))
	})
	return out
}

// Descendants lists the ids beneath id, depth-first, excluding id itself.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	g.walk(id, func(n *domain.StageNode) {
		if n.ID != id {
			out = append(out, n.ID)
		}
	})
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) walk(id string, fn func(n *domain.StageNode)) {
	seen := make(map[string]bool, len(g.nodes))
	var rec func(id string)
	rec = func(id string) {
		n, ok := g.nodes[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		fn(n)
		for _, c := range n.Children {
			rec(c)
		}
	}
	rec(id)
}

func checkNode(node domain.StageNode) error {
	if node.ID == "" {
		return domain.NewStructureError("", "stage id is required")
	}
	switch node.Kind {
	case domain.StageKindLeaf, domain.StageKindSequential, domain.StageKindParallel:
	default:
		return domain.NewStructureError(node.ID, fmt.Sprintf("unknown stage kind %q", node.Kind))
	}
	if node.Kind.IsGroup() && node.Run != "" {
		return domain.NewStructureError(node.ID, "only leaf stages carry executable work")
	}
	return nil
}

// detach drops any child ids the caller set; children are attached through
// AddChild only.
func detach(node domain.StageNode) domain.StageNode {
	n := clone(node)
	n.Children = nil
	return n
}

func clone(n domain.StageNode) domain.StageNode {
	if n.Children != nil {
		n.Children = append([]string(nil), n.Children...)
	}
	if n.Env != nil {
		env := make(map[string]string, len(n.Env))
		for k, v := range n.Env {
			env[k] = v
		}
		n.Env = env
	}
	if n.Artifacts != nil {
		n.Artifacts = append([]string(nil), n.Artifacts...)
	}
	if n.Approval != nil {
		a := *n.Approval
		n.Approval = &a
	}
	return n
}
