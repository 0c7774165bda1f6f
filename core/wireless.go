package core

import (
	"math"
	"sort"
)

// WirelessKind selects the polymorphic shape of a WirelessModel, per
// spec.md §4.3: {linear, log2, log10} are functional-degradation
// variants, stepwise/flat are bin lookups, SISO/MIMO are closed-form
// link-budget models.
type WirelessKind int

const (
	WirelessLinear WirelessKind = iota
	WirelessLog2
	WirelessLog10
	WirelessStepwise
	WirelessFlat
	WirelessSISO
	WirelessMIMO
)

// WirelessModel returns a QoS for a given distance, optionally taking
// into account how many UEs are already attached to the candidate RU
// (only meaningful for MIMO's antenna-occupancy bandwidth scaling).
type WirelessModel struct {
	kind WirelessKind

	bestQoS, worstQoS QoS
	radiusKm          float64
	degKind           DegradationKind

	bins []wirelessBin // sorted ascending by ThresholdKm

	siso SISOParams

	ruAntennas, ueAntennas int
}

type wirelessBin struct {
	ThresholdKm float64
	QoS         QoS
}

// NewFunctionalWireless builds a linear/log2/log10 degradation model
// from best/worst QoS endpoints over [0, radiusKm], per
// mathematical_connections.py's FunctionalDegradation family.
func NewFunctionalWireless(kind WirelessKind, bestQoS, worstQoS QoS, radiusKm float64) (WirelessModel, error) {
	if radiusKm <= 0 {
		return WirelessModel{}, tag(ErrWireless, ErrMissingWirelessParams, "radius must be positive")
	}
	var degKind DegradationKind
	switch kind {
	case WirelessLinear:
		degKind = DegradationLinear
	case WirelessLog2:
		degKind = DegradationLog2
	case WirelessLog10:
		degKind = DegradationLog10
	default:
		return WirelessModel{}, tag(ErrWireless, ErrUnknownWirelessKind, "")
	}
	return WirelessModel{kind: kind, bestQoS: bestQoS, worstQoS: worstQoS, radiusKm: radiusKm, degKind: degKind}, nil
}

// NewStepwiseWireless builds a bin lookup model: the smallest
// threshold at or beyond the query distance supplies the QoS: distances
// beyond the largest threshold are out of range.
func NewStepwiseWireless(bins map[float64]QoS) (WirelessModel, error) {
	if len(bins) < 1 {
		return WirelessModel{}, tag(ErrWireless, ErrEmptyBinSet, "")
	}
	list := make([]wirelessBin, 0, len(bins))
	for threshold, qos := range bins {
		list = append(list, wirelessBin{ThresholdKm: threshold, QoS: qos})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ThresholdKm < list[j].ThresholdKm })
	return WirelessModel{kind: WirelessStepwise, bins: list, radiusKm: list[len(list)-1].ThresholdKm}, nil
}

// NewFlatWireless builds a single-bin model that returns the same QoS
// for every distance up to radiusKm.
func NewFlatWireless(radiusKm float64, qos QoS) (WirelessModel, error) {
	m, err := NewStepwiseWireless(map[float64]QoS{radiusKm: qos})
	if err != nil {
		return WirelessModel{}, err
	}
	m.kind = WirelessFlat
	return m, nil
}

// SISOParams parameterizes the single-input-single-output link budget,
// mirroring mimo.py's SISO.__init__ defaults.
type SISOParams struct {
	TransmitPowerDbm    float64
	CarrierFrequencyGHz float64
	BandwidthMHz        float64
	UENoiseFigureDb     float64
	RUAntennaGainDb     float64
	UEAntennaGainDb     float64
	MaxBitrateMbps      float64
	MinBitrateMbps      float64
	QueuingDelayMs      float64
}

// DefaultSISOParams matches the original SISO class defaults.
func DefaultSISOParams() SISOParams {
	return SISOParams{
		TransmitPowerDbm:    30,
		CarrierFrequencyGHz: 28,
		BandwidthMHz:        100,
		UENoiseFigureDb:     7.8,
		RUAntennaGainDb:     8,
		UEAntennaGainDb:     3,
		MaxBitrateMbps:      538.71,
		MinBitrateMbps:      53.87,
		QueuingDelayMs:      2,
	}
}

// DefaultMIMOParams matches the original MIMO class defaults (lower
// transmit power and zero UE noise figure relative to SISO).
func DefaultMIMOParams() SISOParams {
	p := DefaultSISOParams()
	p.TransmitPowerDbm = 23
	p.UENoiseFigureDb = 0
	return p
}

// NewSISOWireless builds a single-antenna link-budget model.
func NewSISOWireless(params SISOParams) (WirelessModel, error) {
	if params.BandwidthMHz <= 0 || params.CarrierFrequencyGHz <= 0 {
		return WirelessModel{}, tag(ErrWireless, ErrMissingWirelessParams, "bandwidth and carrier frequency must be positive")
	}
	m := WirelessModel{kind: WirelessSISO, siso: params}
	m.radiusKm = m.computeRadiusKm()
	return m, nil
}

// NewMIMOWireless builds an antenna-occupancy-aware multi-antenna
// model on top of the SISO link budget.
func NewMIMOWireless(params SISOParams, ruAntennas, ueAntennas int) (WirelessModel, error) {
	if ruAntennas <= 0 || ueAntennas <= 0 {
		return WirelessModel{}, tag(ErrWireless, ErrMissingWirelessParams, "RU and UE antenna counts must be positive")
	}
	m, err := NewSISOWireless(params)
	if err != nil {
		return WirelessModel{}, err
	}
	m.kind = WirelessMIMO
	m.ruAntennas = ruAntennas
	m.ueAntennas = ueAntennas
	return m, nil
}

// Radius returns the model's operating radius in kilometres, beyond
// which Evaluate reports out-of-range.
func (m WirelessModel) Radius() float64 { return m.radiusKm }

// Evaluate returns the QoS at distanceKm. connectedUEs is the number
// of UEs already attached to the candidate RU; it is ignored by every
// kind except MIMO, where it drives the antenna-occupancy bandwidth
// scaling used both to rank candidate RUs and to compute the winner's
// final QoS (spec.md §9 Open Question: one consistent formula, not the
// original's post-selection "-2" anomaly — see SPEC_FULL.md §12).
func (m WirelessModel) Evaluate(distanceKm float64, connectedUEs int) (QoS, error) {
	if distanceKm < 0 {
		return QoS{}, tag(ErrWireless, ErrNegativeDistance, "")
	}

	switch m.kind {
	case WirelessLinear, WirelessLog2, WirelessLog10:
		return m.evaluateFunctional(distanceKm)
	case WirelessStepwise, WirelessFlat:
		return m.evaluateStepwise(distanceKm)
	case WirelessSISO:
		return m.evaluateSISO(distanceKm), nil
	case WirelessMIMO:
		return m.evaluateMIMO(distanceKm, connectedUEs), nil
	default:
		return QoS{}, tag(ErrWireless, ErrUnknownWirelessKind, "")
	}
}

func (m WirelessModel) evaluateFunctional(distanceKm float64) (QoS, error) {
	if distanceKm > m.radiusKm {
		return MinQoS(), nil
	}

	delayFn, _ := NewDegradationFunction(m.degKind, m.bestQoS.Delay(), m.worstQoS.Delay(), m.radiusKm, true)
	deviationFn, _ := NewDegradationFunction(m.degKind, m.bestQoS.Deviation(), m.worstQoS.Deviation(), m.radiusKm, true)
	bandwidthFn, _ := NewDegradationFunction(m.degKind, m.worstQoS.Bandwidth(), m.bestQoS.Bandwidth(), m.radiusKm, false)
	errorRateFn, _ := NewDegradationFunction(m.degKind, m.bestQoS.ErrorRate(), m.worstQoS.ErrorRate(), m.radiusKm, true)

	delay, _, err := delayFn.Apply(distanceKm)
	if err != nil {
		return QoS{}, tag(ErrWireless, ErrUnknownQoSKey, err.Error())
	}
	deviation, _, err := deviationFn.Apply(distanceKm)
	if err != nil {
		return QoS{}, err
	}
	bandwidth, _, err := bandwidthFn.Apply(distanceKm)
	if err != nil {
		return QoS{}, err
	}
	errorRate, _, err := errorRateFn.Apply(distanceKm)
	if err != nil {
		return QoS{}, err
	}

	q := QoS{}
	q.SetDelay(delay)
	q.SetDeviation(deviation)
	q.SetBandwidth(bandwidth)
	q.SetErrorRate(errorRate)
	return q, nil
}

func (m WirelessModel) evaluateStepwise(distanceKm float64) (QoS, error) {
	distanceM := distanceKm * 1000
	for _, bin := range m.bins {
		if distanceM <= bin.ThresholdKm*1000 {
			return bin.QoS, nil
		}
	}
	return MinQoS(), nil
}

// fsplDb approximates the Friis free-space path loss in dB, the same
// closed form the teacher's link-quality estimator uses.
func fsplDb(distanceKm, freqGHz float64) float64 {
	if distanceKm <= 0 {
		distanceKm = 0.001
	}
	return 92.45 + 20*math.Log10(distanceKm) + 20*math.Log10(freqGHz)
}

func (m WirelessModel) snrWatt(distanceKm float64) float64 {
	p := m.siso
	bandwidthHz := p.BandwidthMHz * 1e6
	rxPowerDbm := p.TransmitPowerDbm - fsplDb(distanceKm, p.CarrierFrequencyGHz) + p.RUAntennaGainDb + p.UEAntennaGainDb
	noiseDbm := -174 + 10*math.Log10(bandwidthHz) + p.UENoiseFigureDb
	snrDb := rxPowerDbm - noiseDbm
	return math.Pow(10, snrDb/10)
}

func (m WirelessModel) idealBandwidthMbps(distanceKm float64) float64 {
	bandwidthHz := m.siso.BandwidthMHz * 1e6
	return bandwidthHz * math.Log2(1+m.snrWatt(distanceKm)) / 1e6
}

func (m WirelessModel) computeRadiusKm() float64 {
	const maxMeters = 10000
	for i := 0; i < maxMeters; i++ {
		if m.idealBandwidthMbps(float64(i)/1000.0) < m.siso.MinBitrateMbps {
			return float64(i) / 1000.0
		}
	}
	return maxMeters / 1000.0
}

func (m WirelessModel) bandwidthFromDistance(distanceKm float64) float64 {
	capacity := m.idealBandwidthMbps(distanceKm)
	result := m.siso.MaxBitrateMbps
	switch {
	case capacity >= m.siso.MinBitrateMbps && capacity <= m.siso.MaxBitrateMbps:
		result = capacity
	case capacity < m.siso.MinBitrateMbps:
		result = m.siso.MinBitrateMbps
	}
	return result * 0.125 // bits -> bytes, matching the original's convention
}

// dqpskBitErrorRate approximates ns-3's Dsss DQPSK error-rate model
// with the differential-BPSK closed form 0.5·exp(-Eb/N0).
func dqpskBitErrorRate(ebN0 float64) float64 {
	if ebN0 < 0 {
		return 0.5
	}
	return 0.5 * math.Exp(-ebN0)
}

func (m WirelessModel) errorRateFromDistance(distanceKm float64) float64 {
	snr := m.snrWatt(distanceKm)
	bandwidthHz := m.siso.BandwidthMHz * 1e6
	ebN0 := (snr * bandwidthHz / 1e6) / 2.0
	ber := dqpskBitErrorRate(ebN0)
	const nbits = 100
	return 100 * (1 - math.Pow(1-ber, nbits))
}

func (m WirelessModel) evaluateSISO(distanceKm float64) QoS {
	q := QoS{}
	q.SetDelay(m.siso.QueuingDelayMs)
	q.SetDeviation(1)
	q.SetBandwidth(m.bandwidthFromDistance(distanceKm))
	q.SetErrorRate(m.errorRateFromDistance(distanceKm))
	return q
}

func (m WirelessModel) evaluateMIMO(distanceKm float64, connectedUEs int) QoS {
	availableAntennas := m.ruAntennas - connectedUEs*m.ueAntennas
	if availableAntennas <= 0 {
		return MinQoS()
	}
	q := m.evaluateSISO(distanceKm)
	weight := availableAntennas
	if m.ueAntennas < weight {
		weight = m.ueAntennas
	}
	q.SetBandwidth(float64(weight) * q.Bandwidth())
	return q
}
