// Package graph defines the workflow graph store boundary. The engine
// persists templates, instances, and the entities they touch as labeled
// nodes and non-owning edges; cross-workflow relationships live here, never
// as direct references between engine objects.
package graph

import (
	"context"
	"time"
)

// Node is one vertex of the workflow graph.
type Node struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"` // e.g. "template", "instance", "user", "entity"
	Label     string            `json:"label,omitempty"`
	Props     map[string]string `json:"props,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Edge is one labeled, directed relationship between two nodes.
type Edge struct {
	ID        string            `json:"id"`
	FromID    string            `json:"from_id"`
	ToID      string            `json:"to_id"`
	Type      string            `json:"type"` // e.g. "instance_of", "performs", "touches"
	Props     map[string]string `json:"props,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Related is one node reached by a traversal, with the distance at which it
// was found.
type Related struct {
	Node  Node `json:"node"`
	Depth int  `json:"depth"`
}

// Edge type labels used by the engine.
const (
	EdgeInstanceOf = "instance_of" // template -> instance
	EdgePerforms   = "performs"    // user -> template
	EdgeTouches    = "touches"     // instance -> entity
	EdgeConnectsTo = "connects_to" // template -> template
)

// Node type labels used by the engine.
const (
	NodeTemplate = "template"
	NodeInstance = "instance"
	NodeUser     = "user"
	NodeEntity   = "entity"
)

// Store is the graph storage capability the engine depends on. The engine
// treats it as an external collaborator; the bundled in-memory
// implementation serves development, tests, and single-node deployments.
type Store interface {
	// UpsertNode inserts or replaces a node by ID.
	UpsertNode(ctx context.Context, node *Node) error

	// UpsertEdge inserts or replaces an edge. An empty edge ID is assigned.
	UpsertEdge(ctx context.Context, edge *Edge) error

	// QueryRelated returns the nodes reachable from entityID within depth
	// hops, following edges in both directions, nearest first.
	QueryRelated(ctx context.Context, entityID string, depth int) ([]Related, error)
}
