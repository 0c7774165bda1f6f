package core

import (
	"errors"
	"testing"
)

func flatMidhaul() QoS {
	q := QoS{}
	q.SetDelay(1)
	q.SetBandwidth(1000)
	return q
}

func newTestGraph(t *testing.T, radiusKm float64) *SliceConceptualGraph {
	t.Helper()
	best := QoS{}
	best.SetDelay(5)
	best.SetBandwidth(100)
	worst := QoS{}
	worst.SetDelay(50)
	worst.SetBandwidth(10)
	wireless, err := NewFunctionalWireless(WirelessLinear, best, worst, radiusKm)
	if err != nil {
		t.Fatalf("unexpected error building wireless model: %v", err)
	}
	return NewSliceConceptualGraph("test-slice", flatMidhaul(), flatMidhaul(), flatMidhaul(), wireless)
}

func TestAddRUFreezesAfterNonRUNode(t *testing.T) {
	g := newTestGraph(t, 10)
	ruLoc, _ := NewLocation(1, 1, 0)
	ruID, err := g.AddRU(ruLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ueLoc, _ := NewLocation(1, 1.001, 0)
	if err := g.AddNode("ue1", NodeUE, &ueLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	otherRU, _ := NewLocation(2, 2, 0)
	_, err = g.AddRU(otherRU)
	if !errors.Is(err, ErrRUFrozen) {
		t.Fatalf("expected ErrRUFrozen, got %v", err)
	}
	_ = ruID
}

func TestAddRUDuplicateLocation(t *testing.T) {
	g := newTestGraph(t, 10)
	loc, _ := NewLocation(5, 5, 0)
	if _, err := g.AddRU(loc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := g.AddRU(loc)
	if !errors.Is(err, ErrRUDuplicate) {
		t.Fatalf("expected ErrRUDuplicate, got %v", err)
	}
}

func TestAddNodeRequiresAtLeastOneRU(t *testing.T) {
	g := newTestGraph(t, 10)
	loc, _ := NewLocation(1, 1, 0)
	err := g.AddNode("ue1", NodeUE, &loc)
	if !errors.Is(err, ErrNoRUs) {
		t.Fatalf("expected ErrNoRUs, got %v", err)
	}
}

func TestAddNodeRequiresLocationForUEAndEdge(t *testing.T) {
	g := newTestGraph(t, 10)
	ruLoc, _ := NewLocation(1, 1, 0)
	if _, err := g.AddRU(ruLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddNode("ue1", NodeUE, nil); !errors.Is(err, ErrLocationRequired) {
		t.Fatalf("expected ErrLocationRequired, got %v", err)
	}
}

func TestCloudNodeConnectsToCloudConnectionWithBackhaul(t *testing.T) {
	g := newTestGraph(t, 10)
	ruLoc, _ := NewLocation(1, 1, 0)
	if _, err := g.AddRU(ruLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddNode("cloud1", NodeCLOUD, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qos, ok, err := g.QoSBetween("cloud1", CloudConnectionID)
	if err != nil || !ok {
		t.Fatalf("qos_between failed: ok=%v err=%v", ok, err)
	}
	if qos.Delay() != flatMidhaul().Delay()*2 {
		t.Fatalf("expected double-counted direct edge, got delay=%v", qos.Delay())
	}
}

// Scenario D (spec.md §8): EDGE co-location synthesis.
func TestEdgeCoLocationSynthesizesNewRU(t *testing.T) {
	g := newTestGraph(t, 10)
	ru1, _ := NewLocation(33, 40, 0)
	if _, err := g.AddRU(ru1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	edgeLoc, _ := NewLocation(34, 41, 0)
	if err := g.AddNode("e1", NodeEDGE, &edgeLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newRUID := ruID(edgeLoc)
	kind, err := g.NodeKindOf(newRUID)
	if err != nil {
		t.Fatalf("expected synthesized RU %q to exist: %v", newRUID, err)
	}
	if kind != NodeRU {
		t.Fatalf("synthesized node kind = %v, want RU", kind)
	}

	qos, ok, err := g.QoSBetween("e1", newRUID)
	if err != nil || !ok {
		t.Fatalf("qos_between failed: ok=%v err=%v", ok, err)
	}
	if !qos.Equal(MaxQoS().Merge(MaxQoS())) {
		t.Fatalf("expected EDGE<->RU co-location at max_qos (doubled), got %+v", qos.Format())
	}
}

func TestUEAttachesToNearestRUWhenOtherIsOutOfRange(t *testing.T) {
	g := newTestGraph(t, 100)
	near, _ := NewLocation(0, 0, 0)
	far, _ := NewLocation(0, 5, 0)
	if _, err := g.AddRU(near); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.AddRU(far); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ueLoc, _ := NewLocation(0, 0.01, 0)
	if err := g.AddNode("ue1", NodeUE, &ueLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nearID := ruID(near)
	if !g.HasToPassThroughMidhaul("ue1", "cloud_connection") {
		t.Fatalf("expected ue1 to be one midhaul hop from cloud_connection")
	}
	g.mu.RLock()
	got := g.ruNeighborOfLocked("ue1")
	g.mu.RUnlock()
	if got != nearID {
		t.Fatalf("ue1 attached to %q, want nearest RU %q", got, nearID)
	}
}

func TestQoSBetweenUnknownNode(t *testing.T) {
	g := newTestGraph(t, 10)
	_, _, err := g.QoSBetween("nope", CloudConnectionID)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestQoSBetweenSameNodeReturnsNone(t *testing.T) {
	g := newTestGraph(t, 10)
	_, ok, err := g.QoSBetween(CloudConnectionID, CloudConnectionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false (none) for a == b")
	}
}

// Testable property 8 (spec.md §8): qos_between double-counting over a
// 3-node path UE--RU--UE'.
func TestQoSBetweenDoubleCountsEndpointEdges(t *testing.T) {
	g := newTestGraph(t, 100)
	ruLoc, _ := NewLocation(0, 0, 0)
	if _, err := g.AddRU(ruLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ue1Loc, _ := NewLocation(0, 0.001, 0)
	ue2Loc, _ := NewLocation(0, -0.001, 0)
	if err := g.AddNode("ue1", NodeUE, &ue1Loc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddNode("ue2", NodeUE, &ue2Loc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qos, ok, err := g.QoSBetween("ue1", "ue2")
	if err != nil || !ok {
		t.Fatalf("qos_between failed: ok=%v err=%v", ok, err)
	}

	g.mu.RLock()
	e1 := g.edges[makeEdgeKey("ue1", ruID(ruLoc))]
	e2 := g.edges[makeEdgeKey("ue2", ruID(ruLoc))]
	g.mu.RUnlock()

	want := 2*e1.Delay() + 2*e2.Delay()
	if qos.Delay() != want {
		t.Fatalf("qos.delay = %v, want %v (double-counted endpoint edges)", qos.Delay(), want)
	}
}

func TestMoveNodeUnknownNodeReturnsNotFound(t *testing.T) {
	g := newTestGraph(t, 10)
	ruLoc, _ := NewLocation(0, 0, 0)
	if _, err := g.AddRU(ruLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := g.MoveNode("does-not-exist", ruLoc)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestMoveNodeRelocatesAndReattaches(t *testing.T) {
	g := newTestGraph(t, 100)
	ru1, _ := NewLocation(0, 0, 0)
	ru2, _ := NewLocation(0, 1, 0)
	if _, err := g.AddRU(ru1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.AddRU(ru2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ueLoc, _ := NewLocation(0, 0.001, 0)
	if err := g.AddNode("ue1", NodeUE, &ueLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newLoc, _ := NewLocation(0, 0.999, 0)
	deltas, err := g.MoveNode("ue1", newLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) == 0 {
		t.Fatalf("expected at least one link delta after move")
	}

	loc, ok, err := g.NodeLocation("ue1")
	if err != nil || !ok {
		t.Fatalf("NodeLocation failed: ok=%v err=%v", ok, err)
	}
	if !loc.Equal(newLoc) {
		t.Fatalf("ue1 location = %+v, want %+v", loc, newLoc)
	}
}
