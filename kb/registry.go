package kb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// DefaultIdentifierAttribute is the record attribute carrying the edge ID.
const DefaultIdentifierAttribute = "ROAD_ID"

var (
	// ErrConstruction marks a fatal network construction failure: the run
	// must not start.
	ErrConstruction = errors.New("network construction failed")
	// ErrDuplicateEdgeID is returned under DuplicateReject when two records
	// carry the same identifier.
	ErrDuplicateEdgeID = errors.New("duplicate edge identifier")
)

// DuplicatePolicy decides what Build does when an identifier repeats.
type DuplicatePolicy int

const (
	// DuplicateOverwrite keeps the last record seen and logs the overwrite.
	DuplicateOverwrite DuplicatePolicy = iota
	// DuplicateReject fails the build.
	DuplicateReject
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	default:
		return "overwrite"
	}
}

// ParseDuplicatePolicy maps a configuration value to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return DuplicateOverwrite, nil
	case "reject":
		return DuplicateReject, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Registry maps stable edge identifiers to immutable edges. It is built
// once and never modified afterwards, so concurrent readers need no lock.
type Registry struct {
	edges      map[model.EdgeID]*model.Edge
	ordered    []*model.Edge
	outgoing   map[model.Point][]*model.Edge
	junctions  []model.Point
	duplicates int
}

type buildOptions struct {
	attr   string
	policy DuplicatePolicy
	log    logging.Logger
}

// BuildOption customises Build.
type BuildOption func(*buildOptions)

// WithIdentifierAttribute sets the attribute name read as the edge ID.
func WithIdentifierAttribute(name string) BuildOption {
	return func(o *buildOptions) {
		if name != "" {
			o.attr = name
		}
	}
}

// WithDuplicatePolicy selects how repeated identifiers are handled.
func WithDuplicatePolicy(p DuplicatePolicy) BuildOption {
	return func(o *buildOptions) {
		o.policy = p
	}
}

// WithLogger attaches a logger used to report overwritten identifiers.
func WithLogger(l logging.Logger) BuildOption {
	return func(o *buildOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// Build constructs a registry from raw edge records, visiting each record
// exactly once.
func Build(records []model.EdgeRecord, opts ...BuildOption) (*Registry, error) {
	o := buildOptions{
		attr:   DefaultIdentifierAttribute,
		policy: DuplicateOverwrite,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: network source supplied no edges", ErrConstruction)
	}

	r := &Registry{
		edges:    make(map[model.EdgeID]*model.Edge, len(records)),
		outgoing: make(map[model.Point][]*model.Edge),
	}

	for i, rec := range records {
		id, err := identifier(rec, o.attr)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrConstruction, i, err)
		}
		if len(rec.Coordinates) < 2 {
			return nil, fmt.Errorf("%w: record %d (%s=%d): need at least two coordinates, got %d",
				ErrConstruction, i, o.attr, id, len(rec.Coordinates))
		}

		if _, exists := r.edges[id]; exists {
			if o.policy == DuplicateReject {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateEdgeID, id)
			}
			r.duplicates++
			o.log.Warn(context.Background(), "overwriting duplicate edge identifier",
				logging.Int64("edge_id", int64(id)),
				logging.Int("record", i),
			)
		}
		r.edges[id] = model.NewEdge(id, rec)
	}

	r.index()
	return r, nil
}

// index builds the ordered edge list and junction adjacency from the
// surviving edges.
func (r *Registry) index() {
	r.ordered = make([]*model.Edge, 0, len(r.edges))
	for _, e := range r.edges {
		r.ordered = append(r.ordered, e)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })

	seen := make(map[model.Point]struct{})
	addJunction := func(p model.Point) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		r.junctions = append(r.junctions, p)
	}

	for _, e := range r.ordered {
		addJunction(e.Start)
		addJunction(e.End)
		r.outgoing[e.Start] = append(r.outgoing[e.Start], e)
		if !e.Directed && e.End != e.Start {
			r.outgoing[e.End] = append(r.outgoing[e.End], e)
		}
	}
}

func identifier(rec model.EdgeRecord, attr string) (model.EdgeID, error) {
	raw, ok := rec.Attributes[attr]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("missing %s attribute", attr)
	}
	return ParseEdgeID(raw)
}

// ParseEdgeID parses an identifier as stored by tabular sources, which may
// write integers in decimal notation ("30250.0"). Fractions are truncated;
// NaN, infinities and values outside the int64 range are rejected.
func ParseEdgeID(raw string) (model.EdgeID, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return model.EdgeID(id), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid edge identifier %q", raw)
	}
	return model.EdgeID(int64(f)), nil
}

// Lookup returns the edge with the given identifier.
func (r *Registry) Lookup(id model.EdgeID) (*model.Edge, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.edges[id]
	return e, ok
}

// Edges returns every edge sorted by identifier. The slice is a copy; the
// edges are shared.
func (r *Registry) Edges() []*model.Edge {
	return append([]*model.Edge(nil), r.ordered...)
}

// Len returns the number of distinct edges.
func (r *Registry) Len() int { return len(r.edges) }

// Duplicates returns how many records were overwritten during Build.
func (r *Registry) Duplicates() int { return r.duplicates }

// Junctions returns the distinct edge endpoints in first-seen order.
func (r *Registry) Junctions() []model.Point {
	return append([]model.Point(nil), r.junctions...)
}

// Outgoing returns the edges that can be entered from junction p.
// Undirected edges are listed at both of their endpoints.
func (r *Registry) Outgoing(p model.Point) []*model.Edge {
	return append([]*model.Edge(nil), r.outgoing[p]...)
}
