package sweep

import (
	"fmt"
	"strings"
	"sync"
)

type GraphNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// GraphEdge means "From holds a reference to To".
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph records the objects a sweep visits and the references it follows.
// Revisited references are recorded too, so cycles stay visible.
type Graph struct {
	mu    sync.Mutex
	nodes []GraphNode
	edges []GraphEdge
	seen  map[GraphEdge]struct{}
}

func NewGraph() *Graph {
	return &Graph{seen: make(map[GraphEdge]struct{})}
}

// Nodes returns a snapshot of recorded objects in visit order.
func (g *Graph) Nodes() []GraphNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GraphNode(nil), g.nodes...)
}

// Edges returns a snapshot of recorded references.
func (g *Graph) Edges() []GraphEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GraphEdge(nil), g.edges...)
}

func (g *Graph) addNode(id identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = append(g.nodes, GraphNode{ID: nodeID(id), Type: id.typ.String()})
}

func (g *Graph) addEdge(from, to identity) {
	e := GraphEdge{From: nodeID(from), To: nodeID(to)}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[GraphEdge]struct{})
	}
	if _, dup := g.seen[e]; dup {
		return
	}
	g.seen[e] = struct{}{}
	g.edges = append(g.edges, e)
}

func nodeID(id identity) string {
	return fmt.Sprintf("%s@%#x", id.typ.String(), id.addr)
}

// DOT exports Graphviz DOT text.
func (g *Graph) DOT() string {
	nodes, edges := g.Nodes(), g.Edges()

	var b strings.Builder
	b.WriteString("digraph sweep {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(nodes))
	for i, n := range nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.ID] = alias
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, escapeDOT(n.ID)))
	}
	for _, e := range edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", from, to))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (g *Graph) Mermaid() string {
	nodes, edges := g.Nodes(), g.Edges()

	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := make(map[string]string, len(nodes))
	for i, n := range nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.ID] = alias
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", alias, escapeMermaid(n.ID)))
	}
	for _, e := range edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
	}
	return b.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, "\"", "#quot;")
}
