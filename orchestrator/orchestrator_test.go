package orchestrator

import (
	"testing"

	"github.com/slicegraph/qos-slicer/core"
)

func simpleWireless(t *testing.T, radiusKm float64) core.WirelessModel {
	t.Helper()
	best := core.QoS{}
	best.SetDelay(5)
	best.SetBandwidth(100)
	worst := core.QoS{}
	worst.SetDelay(50)
	worst.SetBandwidth(10)
	model, err := core.NewFunctionalWireless(core.WirelessLinear, best, worst, radiusKm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return model
}

func flatQoS(delay float64) core.QoS {
	q := core.QoS{}
	q.SetDelay(delay)
	q.SetBandwidth(1000)
	return q
}

func TestMaterializeAttachesRUsAndTopologyNodes(t *testing.T) {
	o := New()
	ruLoc, _ := core.NewLocation(0, 0, 0)
	if err := o.DefineSlice(SliceDescription{
		Name:        "slice-a",
		BackhaulQoS: flatQoS(1),
		MidhaulQoS:  flatQoS(1),
		RadioAccess: flatQoS(1),
		Wireless:    simpleWireless(t, 100),
		RUs:         []core.Location{ruLoc},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ueLoc, _ := core.NewLocation(0, 0.001, 0)
	o.AddTopologyNode(TopologyNode{
		Label:    "ue1",
		Networks: []string{"slice-a"},
		Kind:     core.NodeUE,
		Location: &ueLoc,
	})

	links, err := o.Materialize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) == 0 {
		t.Fatalf("expected at least one deployer link")
	}

	g, ok := o.Slice("slice-a")
	if !ok {
		t.Fatalf("expected slice-a to be materialized")
	}
	if _, err := g.NodeKindOf("ue1"); err != nil {
		t.Fatalf("expected ue1 to be attached: %v", err)
	}
}

func TestDefineSliceRejectsDuplicateName(t *testing.T) {
	o := New()
	desc := SliceDescription{Name: "dup", BackhaulQoS: flatQoS(1), MidhaulQoS: flatQoS(1), RadioAccess: flatQoS(1), Wireless: simpleWireless(t, 10)}
	if err := o.DefineSlice(desc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.DefineSlice(desc); err == nil {
		t.Fatalf("expected error for duplicate slice name")
	}
}

func TestMoveEmitsRecomputedLinks(t *testing.T) {
	o := New()
	ru1, _ := core.NewLocation(0, 0, 0)
	ru2, _ := core.NewLocation(0, 1, 0)
	if err := o.DefineSlice(SliceDescription{
		Name:        "mobile",
		BackhaulQoS: flatQoS(1),
		MidhaulQoS:  flatQoS(1),
		RadioAccess: flatQoS(1),
		Wireless:    simpleWireless(t, 100),
		RUs:         []core.Location{ru1, ru2},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ueLoc, _ := core.NewLocation(0, 0.001, 0)
	o.AddTopologyNode(TopologyNode{Label: "ue1", Networks: []string{"mobile"}, Kind: core.NodeUE, Location: &ueLoc})
	if _, err := o.Materialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newLoc, _ := core.NewLocation(0, 0.999, 0)
	links, err := o.Move("mobile", "ue1", newLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) == 0 {
		t.Fatalf("expected at least one link after move")
	}
}

func TestExportDescriptionListsNodes(t *testing.T) {
	o := New()
	ruLoc, _ := core.NewLocation(1, 1, 0)
	if err := o.DefineSlice(SliceDescription{
		Name:        "export-me",
		BackhaulQoS: flatQoS(1),
		MidhaulQoS:  flatQoS(1),
		RadioAccess: flatQoS(1),
		Wireless:    simpleWireless(t, 10),
		RUs:         []core.Location{ruLoc},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.Materialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	export, err := o.ExportDescription("export-me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(export.Nodes) < 2 { // cloud_connection + the RU
		t.Fatalf("expected at least 2 exported nodes, got %d", len(export.Nodes))
	}
}
