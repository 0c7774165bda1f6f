package core

import (
	"fmt"
	"sort"
	"sync"
)

// NodeKind is one of the four typed node kinds a SliceConceptualGraph
// admits.
type NodeKind int

const (
	NodeRU NodeKind = iota
	NodeCLOUD
	NodeEDGE
	NodeUE
)

func (k NodeKind) String() string {
	switch k {
	case NodeRU:
		return "RU"
	case NodeCLOUD:
		return "CLOUD"
	case NodeEDGE:
		return "EDGE"
	case NodeUE:
		return "UE"
	default:
		return "UNKNOWN"
	}
}

// CloudConnectionID is the designated pseudo-node, marked RU with a
// nil location, present in every slice.
const CloudConnectionID = "cloud_connection"

type sliceNode struct {
	ID       string
	Kind     NodeKind
	Location *Location
}

type edgeKey struct{ a, b string }

func makeEdgeKey(a, b string) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// LinkDelta is one emitted link change: the bidirectional QoS now in
// effect between From and To.
type LinkDelta struct {
	From string
	To   string
	QoS  QoS
}

// SliceConceptualGraph is the typed undirected graph of a single
// network slice: RU admission, UE/EDGE/CLOUD attachment, motion, and
// shortest-path QoS queries. It owns its state exclusively — callers
// serialize access through the orchestrator's mailbox (see
// orchestrator/mailbox.go), mirroring the teacher KnowledgeBase's
// mutex-guarded map style for the rare concurrent read.
type SliceConceptualGraph struct {
	mu sync.RWMutex

	name          string
	backhaulQoS   QoS
	midhaulQoS    QoS
	radioAccess   QoS
	wireless      WirelessModel

	nodes     map[string]*sliceNode
	edges     map[edgeKey]QoS
	adjacency map[string]map[string]struct{}

	ruOrder []string // insertion order, for invariant 3's stable tie-break
	frozen  bool
}

// NewSliceConceptualGraph creates a graph with cloud_connection as its
// sole initial RU node.
func NewSliceConceptualGraph(name string, backhaul, midhaul, radioAccess QoS, wireless WirelessModel) *SliceConceptualGraph {
	g := &SliceConceptualGraph{
		name:        name,
		backhaulQoS: backhaul,
		midhaulQoS:  midhaul,
		radioAccess: radioAccess,
		wireless:    wireless,
		nodes:       make(map[string]*sliceNode),
		edges:       make(map[edgeKey]QoS),
		adjacency:   make(map[string]map[string]struct{}),
	}
	g.nodes[CloudConnectionID] = &sliceNode{ID: CloudConnectionID, Kind: NodeRU}
	g.adjacency[CloudConnectionID] = make(map[string]struct{})
	g.ruOrder = append(g.ruOrder, CloudConnectionID)
	return g
}

// Name returns the slice's name.
func (g *SliceConceptualGraph) Name() string { return g.name }

func ruID(loc Location) string {
	if loc.Alt != 0 {
		return fmt.Sprintf("%g-%g-%g", loc.Lat, loc.Lon, loc.Alt)
	}
	return fmt.Sprintf("%g-%g", loc.Lat, loc.Lon)
}

// AddRU admits a new RU at loc, connecting it with midhaul QoS to
// every existing RU (including cloud_connection). Fails once any
// non-RU node has been attached (invariant 1) or if an RU already
// exists at loc (structural duplicate).
func (g *SliceConceptualGraph) AddRU(loc Location) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return "", tag(ErrSlice, ErrRUFrozen, "")
	}

	id := ruID(loc)
	for _, existingID := range g.ruOrder {
		existing := g.nodes[existingID]
		if existing.Location != nil && existing.Location.Equal(loc) {
			return "", tag(ErrSlice, ErrRUDuplicate, id)
		}
	}
	if _, exists := g.nodes[id]; exists {
		return "", tag(ErrSlice, ErrNodeNameTaken, id)
	}

	locCopy := loc
	g.addRULocked(id, &locCopy)
	return id, nil
}

// addRULocked inserts an RU node and wires midhaul edges to every
// pre-existing RU. Caller must hold g.mu.
func (g *SliceConceptualGraph) addRULocked(id string, loc *Location) {
	g.nodes[id] = &sliceNode{ID: id, Kind: NodeRU, Location: loc}
	g.adjacency[id] = make(map[string]struct{})
	for _, other := range g.ruOrder {
		g.connectLocked(id, other, g.midhaulQoS)
	}
	g.ruOrder = append(g.ruOrder, id)
}

func (g *SliceConceptualGraph) connectLocked(a, b string, qos QoS) {
	g.edges[makeEdgeKey(a, b)] = qos
	g.adjacency[a][b] = struct{}{}
	g.adjacency[b][a] = struct{}{}
}

func (g *SliceConceptualGraph) disconnectLocked(a, b string) {
	delete(g.edges, makeEdgeKey(a, b))
	delete(g.adjacency[a], b)
	delete(g.adjacency[b], a)
}

// realRUCount counts admitted RUs excluding the cloud_connection pseudo-node.
func (g *SliceConceptualGraph) realRUCount() int {
	n := 0
	for _, id := range g.ruOrder {
		if id != CloudConnectionID {
			n++
		}
	}
	return n
}

// AddNode attaches a CLOUD/EDGE/UE node, freezing the RU layer on
// success (invariant 1). loc is required for EDGE/UE.
func (g *SliceConceptualGraph) AddNode(name string, kind NodeKind, loc *Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(name, kind, loc)
}

func (g *SliceConceptualGraph) addNodeLocked(name string, kind NodeKind, loc *Location) error {
	if _, exists := g.nodes[name]; exists {
		return tag(ErrSlice, ErrNodeNameTaken, name)
	}
	if g.realRUCount() < 1 {
		return tag(ErrSlice, ErrNoRUs, "")
	}
	if (kind == NodeEDGE || kind == NodeUE) && loc == nil {
		return tag(ErrSlice, ErrLocationRequired, kind.String())
	}

	switch kind {
	case NodeCLOUD:
		g.nodes[name] = &sliceNode{ID: name, Kind: NodeCLOUD, Location: loc}
		g.adjacency[name] = make(map[string]struct{})
		g.connectLocked(name, CloudConnectionID, g.backhaulQoS)

	case NodeEDGE:
		nearestID := g.nearestRULocked(*loc)
		targetID := nearestID
		if nearestID == "" || g.nodes[nearestID].Location.Distance(*loc) > 0 {
			locCopy := *loc
			targetID = ruID(locCopy)
			if _, exists := g.nodes[targetID]; !exists {
				g.addRULocked(targetID, &locCopy)
			}
		}
		g.nodes[name] = &sliceNode{ID: name, Kind: NodeEDGE, Location: loc}
		g.adjacency[name] = make(map[string]struct{})
		g.connectLocked(name, targetID, MaxQoS())

	case NodeUE:
		targetID, qos, err := g.chooseRUForUELocked(*loc)
		if err != nil {
			return err
		}
		g.nodes[name] = &sliceNode{ID: name, Kind: NodeUE, Location: loc}
		g.adjacency[name] = make(map[string]struct{})
		g.connectLocked(name, targetID, qos)

	default:
		return tag(ErrSlice, ErrNodeNotFound, "unsupported node kind for add_node")
	}

	g.frozen = true
	return nil
}

// nearestRULocked returns the ID of the real RU (never
// cloud_connection) closest to loc, or "" if none exist.
func (g *SliceConceptualGraph) nearestRULocked(loc Location) string {
	best := ""
	bestDist := 0.0
	for _, id := range g.ruOrder {
		if id == CloudConnectionID {
			continue
		}
		n := g.nodes[id]
		d := n.Location.Distance(loc)
		if best == "" || d < bestDist {
			best, bestDist = id, d
		}
	}
	return best
}

// connectedUEsLocked counts UE nodes currently attached to ruID.
func (g *SliceConceptualGraph) connectedUEsLocked(ruID string) int {
	count := 0
	for neighbor := range g.adjacency[ruID] {
		if g.nodes[neighbor].Kind == NodeUE {
			count++
		}
	}
	return count
}

// chooseRUForUELocked implements invariant 3: the RU maximizing the
// wireless model's bandwidth, ties by smaller geodesic distance, then
// by stable RU identifier (insertion) ordering.
func (g *SliceConceptualGraph) chooseRUForUELocked(loc Location) (string, QoS, error) {
	type candidate struct {
		id        string
		qos       QoS
		distance  float64
		ruIndex   int
	}
	var candidates []candidate
	for idx, id := range g.ruOrder {
		if id == CloudConnectionID {
			continue
		}
		n := g.nodes[id]
		d := n.Location.Distance(loc)
		qos, err := g.wireless.Evaluate(d, g.connectedUEsLocked(id))
		if err != nil {
			return "", QoS{}, tag(ErrSlice, ErrQueryFailed, err.Error())
		}
		candidates = append(candidates, candidate{id: id, qos: qos, distance: d, ruIndex: idx})
	}
	if len(candidates) == 0 {
		return "", QoS{}, tag(ErrSlice, ErrNoRUs, "")
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.qos.Bandwidth() != b.qos.Bandwidth() {
			return a.qos.Bandwidth() > b.qos.Bandwidth()
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.ruIndex < b.ruIndex
	})
	winner := candidates[0]
	return winner.id, winner.qos, nil
}

// ruNeighborOfLocked returns id itself when id is an RU; otherwise the
// single RU-layer node id is attached to (invariant 2 guarantees
// exactly one such neighbor).
func (g *SliceConceptualGraph) ruNeighborOfLocked(id string) string {
	n, ok := g.nodes[id]
	if !ok {
		return ""
	}
	if n.Kind == NodeRU {
		return id
	}
	for neighbor := range g.adjacency[id] {
		return neighbor
	}
	return ""
}

// HasToPassThroughMidhaul reports whether a and b's RU-layer neighbors
// differ (SPEC_FULL.md §12: generalized to "the RU neighbor of each
// node" rather than the original's first-neighbor-only comparison).
func (g *SliceConceptualGraph) HasToPassThroughMidhaul(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ruNeighborOfLocked(a) != g.ruNeighborOfLocked(b)
}

// bfsPathLocked returns the shortest node-ID path from a to b
// (inclusive), or nil if disconnected.
func (g *SliceConceptualGraph) bfsPathLocked(a, b string) []string {
	if a == b {
		return []string{a}
	}
	visited := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		neighbors := make([]string, 0, len(g.adjacency[cur]))
		for n := range g.adjacency[cur] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, next := range neighbors {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = cur
			if next == b {
				path := []string{b}
				for p := cur; p != ""; p = visited[p] {
					path = append([]string{p}, path...)
					if p == a {
						break
					}
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// QoSBetween composes the shortest-path QoS between a and b,
// double-counting the first and last edge (spec.md §4.4). Returns
// (QoS{}, false, nil) when a == b ("none").
func (g *SliceConceptualGraph) QoSBetween(a, b string) (QoS, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.qosBetweenLocked(a, b)
}

func (g *SliceConceptualGraph) qosBetweenLocked(a, b string) (QoS, bool, error) {
	if _, ok := g.nodes[a]; !ok {
		return QoS{}, false, tag(ErrSlice, ErrNodeNotFound, a)
	}
	if _, ok := g.nodes[b]; !ok {
		return QoS{}, false, tag(ErrSlice, ErrNodeNotFound, b)
	}
	if a == b {
		return QoS{}, false, nil
	}
	path := g.bfsPathLocked(a, b)
	if path == nil {
		return QoS{}, false, tag(ErrSlice, ErrNodeDisconnected, fmt.Sprintf("%s <-> %s", a, b))
	}

	edge := func(i int) QoS { return g.edges[makeEdgeKey(path[i], path[i+1])] }

	first := edge(0)
	total := first.Merge(first)
	for i := 1; i < len(path)-2; i++ {
		total = total.Merge(edge(i))
	}
	if len(path) > 2 {
		last := edge(len(path) - 2)
		total = total.Merge(last).Merge(last)
	}
	return total, true, nil
}

// MoveNode atomically relocates a non-RU node, tears down and
// re-establishes its parent edge, and returns the set of link deltas
// to emit: every N->X pair (recomputed post-move), plus every X->N
// pair whose pre-move delay changed (SPEC_FULL.md §12's two-pass
// snapshot-then-compare reproduction of the original SDK's move
// semantics).
func (g *SliceConceptualGraph) MoveNode(name string, loc Location) ([]LinkDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, tag(ErrSlice, ErrNodeNotFound, name)
	}
	if n.Kind == NodeRU {
		return nil, tag(ErrSlice, ErrQueryFailed, "RU nodes do not move")
	}

	others := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		if id != name {
			others = append(others, id)
		}
	}
	sort.Strings(others)

	preDelay := make(map[string]float64, len(others))
	for _, other := range others {
		qos, ok, err := g.qosBetweenLocked(name, other)
		if err == nil && ok {
			preDelay[other] = qos.Delay()
		}
	}

	oldLoc := n.Location
	oldNeighbor := g.ruNeighborOfLocked(name)
	var oldQoS QoS
	if oldNeighbor != "" {
		oldQoS = g.edges[makeEdgeKey(name, oldNeighbor)]
	}
	if oldNeighbor != "" {
		g.disconnectLocked(name, oldNeighbor)
	}
	delete(g.nodes, name)

	locCopy := loc
	if err := g.addNodeLocked(name, n.Kind, &locCopy); err != nil {
		// Atomicity (invariant 7): restore the node exactly as it was.
		g.nodes[name] = &sliceNode{ID: name, Kind: n.Kind, Location: oldLoc}
		if oldNeighbor != "" {
			g.connectLocked(name, oldNeighbor, oldQoS)
		}
		return nil, err
	}

	deltas := make([]LinkDelta, 0, len(others))
	for _, other := range others {
		qos, ok, err := g.qosBetweenLocked(name, other)
		if err != nil || !ok {
			continue
		}
		view := qos.BidirectionalView()
		deltas = append(deltas, LinkDelta{From: name, To: other, QoS: view})
		if pre, had := preDelay[other]; had && pre != qos.Delay() {
			deltas = append(deltas, LinkDelta{From: other, To: name, QoS: view})
		}
	}
	return deltas, nil
}

// NodeIDs returns every node identifier in the slice, sorted.
func (g *SliceConceptualGraph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeLocation returns the node's location and whether it has one set
// (cloud_connection and location-less CLOUD nodes do not).
func (g *SliceConceptualGraph) NodeLocation(id string) (Location, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Location{}, false, tag(ErrSlice, ErrNodeNotFound, id)
	}
	if n.Location == nil {
		return Location{}, false, nil
	}
	return *n.Location, true, nil
}

// NodeKindOf returns the kind of node id.
func (g *SliceConceptualGraph) NodeKindOf(id string) (NodeKind, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return 0, tag(ErrSlice, ErrNodeNotFound, id)
	}
	return n.Kind, nil
}
