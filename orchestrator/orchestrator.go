// Package orchestrator assembles multiple slices from a declarative
// description and exposes the façade operations the external deployer
// consumes: define/add/materialize/move, per spec.md §4.5.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/slicegraph/qos-slicer/core"
)

// SliceDescription is the pure-data accumulation target for
// define_slice/add_ru_to_slice; nothing is materialized until
// Materialize is called.
type SliceDescription struct {
	Name        string
	BackhaulQoS core.QoS
	MidhaulQoS  core.QoS
	RadioAccess core.QoS
	Wireless    core.WirelessModel
	RUs         []core.Location
}

// TopologyNode is a blueprint node accumulated by AddTopologyNode; it
// is attached to every slice it names in Networks once Materialize
// runs, and its Location is cleared afterward (spec.md §4.5).
type TopologyNode struct {
	Label    string
	Service  string
	Device   string
	Networks []string
	Replicas int
	Kind     core.NodeKind
	Location *core.Location
}

// DeployerLink is one fogified directed link entry: (from, to,
// bidirectional_view(qos_between(from, to))) (spec.md §6).
type DeployerLink struct {
	Slice string
	From  string
	To    string
	QoS   core.QoS
}

// Orchestrator owns the map of slices exclusively; no cross-slice
// state is shared (spec.md §5).
type Orchestrator struct {
	mu sync.Mutex

	descriptions map[string]*SliceDescription
	topology     []*TopologyNode
	slices       map[string]*core.SliceConceptualGraph
}

// New constructs an empty orchestrator.
func New() *Orchestrator {
	return &Orchestrator{
		descriptions: make(map[string]*SliceDescription),
		slices:       make(map[string]*core.SliceConceptualGraph),
	}
}

// DefineSlice registers a slice description. Pure data: no graph
// mutation happens until Materialize.
func (o *Orchestrator) DefineSlice(desc SliceDescription) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if desc.Name == "" {
		return fmt.Errorf("slice description requires a name")
	}
	if _, exists := o.descriptions[desc.Name]; exists {
		return fmt.Errorf("slice %q already defined", desc.Name)
	}
	d := desc
	o.descriptions[desc.Name] = &d
	return nil
}

// AddRUToSlice appends an RU to a previously defined slice's
// description.
func (o *Orchestrator) AddRUToSlice(sliceName string, loc core.Location) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	desc, ok := o.descriptions[sliceName]
	if !ok {
		return fmt.Errorf("no slice description named %q", sliceName)
	}
	desc.RUs = append(desc.RUs, loc)
	return nil
}

// AddTopologyNode accumulates a topology (blueprint) node.
func (o *Orchestrator) AddTopologyNode(node TopologyNode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := node
	o.topology = append(o.topology, &n)
}

// Materialize instantiates a SliceConceptualGraph for each description,
// attaches its RUs, then attaches every topology node that still has a
// location and whose Networks mention the slice, clearing the node's
// location once consumed; nodes without a location are skipped. It
// returns the fogified link set: one directed entry per ordered
// (from, to) pair with non-null QoS.
func (o *Orchestrator) Materialize() ([]DeployerLink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, 0, len(o.descriptions))
	for name := range o.descriptions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		desc := o.descriptions[name]
		g := core.NewSliceConceptualGraph(name, desc.BackhaulQoS, desc.MidhaulQoS, desc.RadioAccess, desc.Wireless)
		for _, ruLoc := range desc.RUs {
			if _, err := g.AddRU(ruLoc); err != nil {
				return nil, fmt.Errorf("materialize %q: add_RU: %w", name, err)
			}
		}
		o.slices[name] = g
	}

	for _, node := range o.topology {
		if node.Location == nil {
			continue
		}
		for _, name := range names {
			if !namesSlice(node.Networks, name) {
				continue
			}
			g := o.slices[name]
			if err := g.AddNode(node.Label, node.Kind, node.Location); err != nil {
				return nil, fmt.Errorf("materialize %q: add_node %q: %w", name, node.Label, err)
			}
		}
		node.Location = nil
	}

	var links []DeployerLink
	for _, name := range names {
		links = append(links, o.sliceLinksLocked(name)...)
	}
	return links, nil
}

func namesSlice(networks []string, name string) bool {
	for _, n := range networks {
		if n == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) sliceLinksLocked(name string) []DeployerLink {
	g := o.slices[name]
	ids := g.NodeIDs()
	var links []DeployerLink
	for _, from := range ids {
		for _, to := range ids {
			if from == to {
				continue
			}
			qos, ok, err := g.QoSBetween(from, to)
			if err != nil || !ok {
				continue
			}
			links = append(links, DeployerLink{Slice: name, From: from, To: to, QoS: qos.BidirectionalView()})
		}
	}
	return links
}

// Move delegates to the slice's MoveNode and re-emits the recomputed
// directed links as DeployerLinks (spec.md §4.5).
func (o *Orchestrator) Move(sliceName, label string, loc core.Location) ([]DeployerLink, error) {
	o.mu.Lock()
	g, ok := o.slices[sliceName]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no materialized slice named %q", sliceName)
	}

	deltas, err := g.MoveNode(label, loc)
	if err != nil {
		return nil, err
	}

	links := make([]DeployerLink, 0, len(deltas))
	for _, d := range deltas {
		links = append(links, DeployerLink{Slice: sliceName, From: d.From, To: d.To, QoS: d.QoS})
	}
	return links, nil
}

// Slice returns the materialized graph for name, for read-only queries
// (e.g. the HTTP control plane).
func (o *Orchestrator) Slice(name string) (*core.SliceConceptualGraph, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.slices[name]
	return g, ok
}

// SliceNames returns the names of every materialized slice, sorted.
func (o *Orchestrator) SliceNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.slices))
	for name := range o.slices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SliceExport is the declarative export alternative to persistence
// (SPEC_FULL.md §12): the slice's name plus its node list and
// positions, JSON/YAML-serializable, with no opaque blob. The slice's
// QoS parameters and wireless model are not included.
type SliceExport struct {
	Name  string                     `json:"name" yaml:"name"`
	Nodes []SliceExportNode          `json:"nodes" yaml:"nodes"`
}

// SliceExportNode is one exported node entry.
type SliceExportNode struct {
	ID       string   `json:"id" yaml:"id"`
	Kind     string   `json:"kind" yaml:"kind"`
	Lat      *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty" yaml:"lon,omitempty"`
	Alt      *float64 `json:"alt,omitempty" yaml:"alt,omitempty"`
}

// ExportDescription builds a SliceExport for name.
func (o *Orchestrator) ExportDescription(name string) (SliceExport, error) {
	o.mu.Lock()
	g, ok := o.slices[name]
	o.mu.Unlock()
	if !ok {
		return SliceExport{}, fmt.Errorf("no materialized slice named %q", name)
	}

	export := SliceExport{Name: name}
	for _, id := range g.NodeIDs() {
		kind, err := g.NodeKindOf(id)
		if err != nil {
			continue
		}
		entry := SliceExportNode{ID: id, Kind: kind.String()}
		if loc, ok, _ := g.NodeLocation(id); ok {
			lat, lon, alt := loc.Lat, loc.Lon, loc.Alt
			entry.Lat, entry.Lon, entry.Alt = &lat, &lon, &alt
		}
		export.Nodes = append(export.Nodes, entry)
	}
	return export, nil
}
