package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMemoryStore is a map-backed graph store guarded by a RWMutex. Suitable
// for local development, tests, and small single-node deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge
	// outEdges holds edge IDs leaving a node, inEdges those arriving.
	outEdges map[string][]string
	inEdges  map[string][]string
	logger   *zap.Logger
}

// NewInMemoryStore creates an in-memory graph store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "graph_inmemory")),
	}
}

// UpsertNode inserts or replaces a node by ID.
func (s *InMemoryStore) UpsertNode(ctx context.Context, node *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("node is nil")
	}
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}

	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *node
	s.nodes[node.ID] = &copied

	s.logger.Debug("node upserted",
		zap.String("id", node.ID),
		zap.String("type", node.Type))

	return nil
}

// UpsertEdge inserts or replaces an edge. An empty edge ID is assigned.
func (s *InMemoryStore) UpsertEdge(ctx context.Context, edge *Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if edge == nil {
		return fmt.Errorf("edge is nil")
	}
	if edge.FromID == "" || edge.ToID == "" {
		return fmt.Errorf("edge from_id and to_id are required")
	}
	if edge.ID == "" {
		edge.ID = "edg_" + uuid.NewString()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[edge.ID]; !exists {
		s.outEdges[edge.FromID] = append(s.outEdges[edge.FromID], edge.ID)
		s.inEdges[edge.ToID] = append(s.inEdges[edge.ToID], edge.ID)
	}
	copied := *edge
	s.edges[edge.ID] = &copied

	s.logger.Debug("edge upserted",
		zap.String("id", edge.ID),
		zap.String("from", edge.FromID),
		zap.String("to", edge.ToID),
		zap.String("type", edge.Type))

	return nil
}

// QueryRelated returns the nodes reachable from entityID within depth hops,
// breadth-first, nearest first. The starting node is not included.
func (s *InMemoryStore) QueryRelated(ctx context.Context, entityID string, depth int) ([]Related, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if depth <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[entityID]; !ok {
		return nil, fmt.Errorf("node %q not found", entityID)
	}

	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var results []Related

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range s.neighbors(id) {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				node, ok := s.nodes[neighbor]
				if !ok {
					// Edge to a node that was never upserted; skip.
					continue
				}
				results = append(results, Related{Node: *node, Depth: d})
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	return results, nil
}

// neighbors returns node IDs adjacent to id in either direction. Caller
// must hold the read lock.
func (s *InMemoryStore) neighbors(id string) []string {
	var out []string
	for _, edgeID := range s.outEdges[id] {
		if e, ok := s.edges[edgeID]; ok {
			out = append(out, e.ToID)
		}
	}
	for _, edgeID := range s.inEdges[id] {
		if e, ok := s.edges[edgeID]; ok {
			out = append(out, e.FromID)
		}
	}
	return out
}
