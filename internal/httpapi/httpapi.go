// Package httpapi exposes the REST/JSON control-plane surface spec.md
// §6 specifies: slice definition, RU/topology attachment,
// materialization, qos_between queries, move, declarative export, and
// a websocket stream of post-mutation snapshots for the external map
// UI collaborator. Every mutating request is funneled through a
// single orchestrator.Mailbox so the graph's single-writer contract
// (spec.md §5) holds regardless of how many HTTP goroutines are
// in flight.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slicegraph/qos-slicer/core"
	"github.com/slicegraph/qos-slicer/geocode"
	"github.com/slicegraph/qos-slicer/internal/logging"
	"github.com/slicegraph/qos-slicer/internal/observability"
	"github.com/slicegraph/qos-slicer/orchestrator"
)

// Server holds the control-plane dependencies and implements
// http.Handler via its Mux.
type Server struct {
	orch    *orchestrator.Orchestrator
	mailbox *orchestrator.Mailbox
	log     logging.Logger
	metrics *observability.GraphCollector

	geocoder   *geocode.CachingService
	geoMetrics *observability.GeocodeCollector

	upgrader websocket.Upgrader

	subMu       sync.Mutex
	subscribers map[string]map[*websocket.Conn]struct{}
}

// NewServer constructs a Server around an orchestrator and a running
// mailbox (the caller is responsible for starting mailbox.Run in its
// own goroutine before serving requests). geocoder and geoMetrics are
// optional (nil disables the node-location endpoint's country lookup
// and its metrics respectively).
func NewServer(orch *orchestrator.Orchestrator, mailbox *orchestrator.Mailbox, log logging.Logger, metrics *observability.GraphCollector, geocoder *geocode.CachingService, geoMetrics *observability.GeocodeCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		orch:        orch,
		mailbox:     mailbox,
		log:         log,
		metrics:     metrics,
		geocoder:    geocoder,
		geoMetrics:  geoMetrics,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		subscribers: make(map[string]map[*websocket.Conn]struct{}),
	}
	mailbox.AddListener(s.broadcastSnapshots)
	return s
}

// Mux builds the REST route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/slices", s.withLogging(s.handleDefineSlice))
	mux.HandleFunc("POST /v1/slices/{name}/rus", s.withLogging(s.handleAddRU))
	mux.HandleFunc("POST /v1/topology", s.withLogging(s.handleAddTopologyNode))
	mux.HandleFunc("POST /v1/materialize", s.withLogging(s.handleMaterialize))
	mux.HandleFunc("POST /v1/slices/{name}/move", s.withLogging(s.handleMove))
	mux.HandleFunc("GET /v1/slices/{name}/qos", s.withLogging(s.handleQoSBetween))
	mux.HandleFunc("GET /v1/slices/{name}/export", s.withLogging(s.handleExport))
	mux.HandleFunc("GET /v1/slices/{name}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/slices/{name}/nodes/{id}/location", s.withLogging(s.handleNodeLocation))
	return mux
}

func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, reqLog := logging.WithRequestLogger(r.Context(), s.log)
		start := time.Now()
		next(w, r.WithContext(ctx))
		reqLog.Info(ctx, "handled request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Any("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

// ---- request/response wire shapes ----

type locationSpec struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt,omitempty"`
}

func (l locationSpec) toLocation() (core.Location, error) {
	return core.NewLocation(l.Lat, l.Lon, l.Alt)
}

type sisoSpec struct {
	TransmitPowerDbm    float64 `json:"transmit_power_dbm,omitempty"`
	CarrierFrequencyGHz float64 `json:"carrier_frequency_ghz,omitempty"`
	BandwidthMHz        float64 `json:"bandwidth_mhz,omitempty"`
	UENoiseFigureDb     float64 `json:"ue_noise_figure_db,omitempty"`
	RUAntennaGainDb     float64 `json:"ru_antenna_gain_db,omitempty"`
	UEAntennaGainDb     float64 `json:"ue_antenna_gain_db,omitempty"`
	MaxBitrateMbps      float64 `json:"max_bitrate_mbps,omitempty"`
	MinBitrateMbps      float64 `json:"min_bitrate_mbps,omitempty"`
	QueuingDelayMs      float64 `json:"queuing_delay_ms,omitempty"`
}

func (s *sisoSpec) toParams(defaults core.SISOParams) core.SISOParams {
	if s == nil {
		return defaults
	}
	return core.SISOParams{
		TransmitPowerDbm:    s.TransmitPowerDbm,
		CarrierFrequencyGHz: s.CarrierFrequencyGHz,
		BandwidthMHz:        s.BandwidthMHz,
		UENoiseFigureDb:     s.UENoiseFigureDb,
		RUAntennaGainDb:     s.RUAntennaGainDb,
		UEAntennaGainDb:     s.UEAntennaGainDb,
		MaxBitrateMbps:      s.MaxBitrateMbps,
		MinBitrateMbps:      s.MinBitrateMbps,
		QueuingDelayMs:      s.QueuingDelayMs,
	}
}

type wirelessSpec struct {
	Kind       string                    `json:"kind"`
	Best       map[string]any            `json:"best,omitempty"`
	Worst      map[string]any            `json:"worst,omitempty"`
	RadiusKm   float64                   `json:"radius_km,omitempty"`
	Bins       map[string]map[string]any `json:"bins,omitempty"`
	SISO       *sisoSpec                 `json:"siso,omitempty"`
	RUAntennas int                       `json:"ru_antennas,omitempty"`
	UEAntennas int                       `json:"ue_antennas,omitempty"`
}

func (w wirelessSpec) build() (core.WirelessModel, error) {
	switch w.Kind {
	case "linear", "log2", "log10":
		kind := map[string]core.WirelessKind{"linear": core.WirelessLinear, "log2": core.WirelessLog2, "log10": core.WirelessLog10}[w.Kind]
		best, err := core.ParseQoS(w.Best)
		if err != nil {
			return core.WirelessModel{}, err
		}
		worst, err := core.ParseQoS(w.Worst)
		if err != nil {
			return core.WirelessModel{}, err
		}
		return core.NewFunctionalWireless(kind, best, worst, w.RadiusKm)

	case "stepwise":
		bins := make(map[float64]core.QoS, len(w.Bins))
		for thresholdStr, m := range w.Bins {
			threshold, err := strconv.ParseFloat(thresholdStr, 64)
			if err != nil {
				return core.WirelessModel{}, fmt.Errorf("%w: bad bin threshold %q", core.ErrWireless, thresholdStr)
			}
			qos, err := core.ParseQoS(m)
			if err != nil {
				return core.WirelessModel{}, err
			}
			bins[threshold] = qos
		}
		return core.NewStepwiseWireless(bins)

	case "flat":
		qos, err := core.ParseQoS(w.Best)
		if err != nil {
			return core.WirelessModel{}, err
		}
		return core.NewFlatWireless(w.RadiusKm, qos)

	case "siso":
		return core.NewSISOWireless(w.SISO.toParams(core.DefaultSISOParams()))

	case "mimo":
		return core.NewMIMOWireless(w.SISO.toParams(core.DefaultMIMOParams()), w.RUAntennas, w.UEAntennas)

	default:
		return core.WirelessModel{}, fmt.Errorf("%w: unknown wireless kind %q", core.ErrWireless, w.Kind)
	}
}

// DecodeSliceSpec decodes a single slice description from raw JSON
// bytes using the same wire format POST /v1/slices accepts. Exported
// so other entrypoints (e.g. scenario-file preloading) can build an
// orchestrator.SliceDescription without duplicating the parsing rules.
func DecodeSliceSpec(data []byte) (orchestrator.SliceDescription, error) {
	var spec sliceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return orchestrator.SliceDescription{}, fmt.Errorf("%w: %v", core.ErrSlice, err)
	}
	return spec.build()
}

type sliceSpec struct {
	Name        string         `json:"name"`
	BackhaulQoS map[string]any `json:"backhaul_qos"`
	MidhaulQoS  map[string]any `json:"midhaul_qos"`
	RadioAccess map[string]any `json:"radio_access_qos"`
	Wireless    wirelessSpec   `json:"wireless"`
	RUs         []locationSpec `json:"rus,omitempty"`
}

func (spec sliceSpec) build() (orchestrator.SliceDescription, error) {
	backhaul, err := core.ParseQoS(spec.BackhaulQoS)
	if err != nil {
		return orchestrator.SliceDescription{}, err
	}
	midhaul, err := core.ParseQoS(spec.MidhaulQoS)
	if err != nil {
		return orchestrator.SliceDescription{}, err
	}
	radioAccess, err := core.ParseQoS(spec.RadioAccess)
	if err != nil {
		return orchestrator.SliceDescription{}, err
	}
	wireless, err := spec.Wireless.build()
	if err != nil {
		return orchestrator.SliceDescription{}, err
	}
	rus := make([]core.Location, 0, len(spec.RUs))
	for _, r := range spec.RUs {
		loc, err := r.toLocation()
		if err != nil {
			return orchestrator.SliceDescription{}, err
		}
		rus = append(rus, loc)
	}
	return orchestrator.SliceDescription{
		Name:        spec.Name,
		BackhaulQoS: backhaul,
		MidhaulQoS:  midhaul,
		RadioAccess: radioAccess,
		Wireless:    wireless,
		RUs:         rus,
	}, nil
}

type topologyNodeSpec struct {
	Label    string        `json:"label"`
	Service  string        `json:"service,omitempty"`
	Device   string        `json:"device,omitempty"`
	Networks []string      `json:"networks"`
	Replicas int           `json:"replicas,omitempty"`
	Kind     string        `json:"kind"`
	Location *locationSpec `json:"location,omitempty"`
}

var nodeKindByName = map[string]core.NodeKind{
	"RU":    core.NodeRU,
	"CLOUD": core.NodeCLOUD,
	"EDGE":  core.NodeEDGE,
	"UE":    core.NodeUE,
}

func (spec topologyNodeSpec) build() (orchestrator.TopologyNode, error) {
	kind, ok := nodeKindByName[spec.Kind]
	if !ok {
		return orchestrator.TopologyNode{}, fmt.Errorf("%w: unknown node kind %q", core.ErrSlice, spec.Kind)
	}
	node := orchestrator.TopologyNode{
		Label:    spec.Label,
		Service:  spec.Service,
		Device:   spec.Device,
		Networks: spec.Networks,
		Replicas: spec.Replicas,
		Kind:     kind,
	}
	if spec.Location != nil {
		loc, err := spec.Location.toLocation()
		if err != nil {
			return orchestrator.TopologyNode{}, err
		}
		node.Location = &loc
	}
	return node, nil
}

type linkWire struct {
	Slice string         `json:"slice"`
	From  string         `json:"from"`
	To    string         `json:"to"`
	QoS   map[string]any `json:"qos"`
}

func toLinkWire(l orchestrator.DeployerLink) linkWire {
	return linkWire{Slice: l.Slice, From: l.From, To: l.To, QoS: l.QoS.Format()}
}

func toLinkWires(links []orchestrator.DeployerLink) []linkWire {
	out := make([]linkWire, 0, len(links))
	for _, l := range links {
		out = append(out, toLinkWire(l))
	}
	return out
}

// ---- handlers ----

func (s *Server) handleDefineSlice(w http.ResponseWriter, r *http.Request) {
	var spec sliceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrSlice, err))
		return
	}
	desc, err := spec.build()
	if err != nil {
		writeError(w, err)
		return
	}
	_, err = s.mailbox.Submit(r.Context(), func() (any, error) {
		return nil, s.orch.DefineSlice(desc)
	})
	s.recordMutation(desc.Name, "define_slice", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": desc.Name})
}

func (s *Server) handleAddRU(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var spec locationSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrSlice, err))
		return
	}
	loc, err := spec.toLocation()
	if err != nil {
		writeError(w, err)
		return
	}
	_, err = s.mailbox.Submit(r.Context(), func() (any, error) {
		return nil, s.orch.AddRUToSlice(name, loc)
	})
	s.recordMutation(name, "add_RU", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddTopologyNode(w http.ResponseWriter, r *http.Request) {
	var spec topologyNodeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrSlice, err))
		return
	}
	node, err := spec.build()
	if err != nil {
		writeError(w, err)
		return
	}
	_, err = s.mailbox.Submit(r.Context(), func() (any, error) {
		s.orch.AddTopologyNode(node)
		return nil, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	result, err := s.mailbox.Submit(r.Context(), func() (any, error) {
		return s.orch.Materialize()
	})
	s.recordMutation("*", "materialize", err)
	if err != nil {
		writeError(w, err)
		return
	}
	links, _ := result.([]orchestrator.DeployerLink)
	s.refreshSliceGauges()
	writeJSON(w, http.StatusOK, map[string]any{"links": toLinkWires(links)})
}

type moveRequest struct {
	Label    string       `json:"label"`
	Location locationSpec `json:"location"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrSlice, err))
		return
	}
	loc, err := req.Location.toLocation()
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.mailbox.Submit(r.Context(), func() (any, error) {
		return s.orch.Move(name, req.Label, loc)
	})
	s.recordMutation(name, "move_node", err)
	if err != nil {
		writeError(w, err)
		return
	}
	links, _ := result.([]orchestrator.DeployerLink)
	s.refreshSliceGauges()
	writeJSON(w, http.StatusOK, map[string]any{"links": toLinkWires(links)})
}

func (s *Server) handleQoSBetween(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, fmt.Errorf("%w: from and to query parameters are required", core.ErrSlice))
		return
	}

	g, ok := s.orch.Slice(name)
	if !ok {
		writeError(w, fmt.Errorf("%w: no materialized slice named %q", core.ErrSlice, name))
		return
	}

	start := time.Now()
	qos, present, err := g.QoSBetween(from, to)
	if s.metrics != nil {
		s.metrics.QoSBetweenLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !present {
		writeJSON(w, http.StatusOK, map[string]any{"qos": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qos": qos.BidirectionalView().Format()})
}

// handleNodeLocation reports a node's coordinates and, when a geocoder
// is configured, its reverse-geocoded country, mirroring
// slicing.py's get_node_location plus Location.geo_reverse_country.
func (s *Server) handleNodeLocation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	id := r.PathValue("id")

	g, ok := s.orch.Slice(name)
	if !ok {
		writeError(w, fmt.Errorf("%w: no materialized slice named %q", core.ErrSlice, name))
		return
	}
	loc, present, err := g.NodeLocation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !present {
		writeJSON(w, http.StatusOK, map[string]any{"location": nil})
		return
	}

	resp := map[string]any{"lat": loc.Lat, "lon": loc.Lon, "alt": loc.Alt}
	if s.geocoder != nil {
		start := time.Now()
		country, err := s.geocoder.ReverseGeocode(loc)
		if s.geoMetrics != nil {
			s.geoMetrics.ObserveLookup(time.Since(start))
			stats := s.geocoder.Stats()
			s.geoMetrics.SetCacheSize(stats.ReverseSize)
			s.geoMetrics.SetHitRatio(stats.ReverseHitRatio)
		}
		if err == nil {
			resp["country"] = country
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	export, err := s.orch.ExportDescription(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleStream upgrades to a websocket and pushes a JSON export
// snapshot of the slice after every mailbox-processed mutation, per
// spec.md §5's "publishes a post-mutation snapshot consumable by map
// updates" requirement.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", logging.String("error", err.Error()))
		return
	}

	s.subMu.Lock()
	if s.subscribers[name] == nil {
		s.subscribers[name] = make(map[*websocket.Conn]struct{})
	}
	s.subscribers[name][conn] = struct{}{}
	s.subMu.Unlock()

	if export, err := s.orch.ExportDescription(name); err == nil {
		_ = conn.WriteJSON(export)
	}

	go func() {
		defer s.removeSubscriber(name, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeSubscriber(name string, conn *websocket.Conn) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subscribers[name], conn)
	_ = conn.Close()
}

// broadcastSnapshots is the mailbox listener: it runs after every
// processed mutation and pushes a fresh export to each slice's
// subscribed connections.
func (s *Server) broadcastSnapshots() {
	s.subMu.Lock()
	names := make([]string, 0, len(s.subscribers))
	for name, conns := range s.subscribers {
		if len(conns) > 0 {
			names = append(names, name)
		}
	}
	s.subMu.Unlock()

	for _, name := range names {
		export, err := s.orch.ExportDescription(name)
		if err != nil {
			continue
		}
		s.subMu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.subscribers[name]))
		for c := range s.subscribers[name] {
			conns = append(conns, c)
		}
		s.subMu.Unlock()
		for _, c := range conns {
			if err := c.WriteJSON(export); err != nil {
				s.removeSubscriber(name, c)
			}
		}
	}
}

func (s *Server) recordMutation(slice, operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordMutation(slice, operation, err)
	}
}

func (s *Server) refreshSliceGauges() {
	if s.metrics == nil {
		return
	}
	for _, name := range s.orch.SliceNames() {
		g, ok := s.orch.Slice(name)
		if !ok {
			continue
		}
		var rus, ues, edges int
		for _, id := range g.NodeIDs() {
			kind, err := g.NodeKindOf(id)
			if err != nil {
				continue
			}
			switch kind {
			case core.NodeRU:
				rus++
			case core.NodeUE:
				ues++
			case core.NodeEDGE:
				edges++
			}
		}
		s.metrics.SetSliceCounts(name, rus, ues, edges)
	}
}

// ---- error mapping & JSON helpers ----

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNodeDisconnected):
		return http.StatusConflict
	case errors.Is(err, core.ErrRUFrozen), errors.Is(err, core.ErrRUDuplicate), errors.Is(err, core.ErrNodeNameTaken):
		return http.StatusConflict
	case errors.Is(err, core.ErrQoS), errors.Is(err, core.ErrLocation), errors.Is(err, core.ErrDegradation),
		errors.Is(err, core.ErrWireless), errors.Is(err, core.ErrSlice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
