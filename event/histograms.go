package event

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

// Default histogram names.
const (
	HistoPrimaryHits        = "Phits"
	HistoPrimaryLoss        = "Ploss"
	HistoEnergyLoss         = "Eloss"
	HistoPrimaryHitsPE      = "PhitsPE"
	HistoPrimaryLossPE      = "PlossPE"
	HistoEnergyLossPE       = "ElossPE"
	HistoEnergyLossTunnel   = "ElossTunnel"
	HistoEnergyLossTunnelPE = "ElossTunnelPE"
)

const mmPerMetre = 1000.0

type meshHandle struct {
	h    int
	is4D bool
}

// handles of the default histograms, -1 when not created
type handles struct {
	phits, ploss, eloss       int
	phitsPE, plossPE, elossPE int
	tunnel, tunnelPE          int
	meshes                    []meshHandle
}

func noHandles() handles {
	return handles{-1, -1, -1, -1, -1, -1, -1, -1, nil}
}

// CreateHistograms defines the default histograms of the run in both the
// event and run sets: primary hits, primary losses and energy loss along S,
// the same per element when configured, and the scoring meshes. 4D meshes
// are skipped for data versions without them.
func (r *Registry) CreateHistograms(model *rec.Model, v compat.DataVersion) error {
	if r.EventHistos == nil {
		return nil
	}
	hc := r.cfg.Histograms
	for _, set := range []*rec.Histos{r.EventHistos, r.RunHistos} {
		h, err := createDefaults(set, model, hc, r.cfg.ElossTunnel, v)
		if err != nil {
			return fmt.Errorf("creating histograms: %w", err)
		}
		r.histos = h
	}
	return nil
}

func createDefaults(set *rec.Histos, model *rec.Model, hc HistogramConfig, tunnel bool, v compat.DataVersion) (handles, error) {
	h := noHandles()
	var err error
	if length := model.TotalLength(); length > 0 {
		n := max(1, int(math.Ceil(length/hc.BinWidth)))
		s := rec.Uniform(n, 0, float64(n)*hc.BinWidth)
		if h.phits, err = set.Create1DHistogram(HistoPrimaryHits, "Primary Hits", s); err != nil {
			return h, err
		}
		if h.ploss, err = set.Create1DHistogram(HistoPrimaryLoss, "Primary Loss", s); err != nil {
			return h, err
		}
		if h.eloss, err = set.Create1DHistogram(HistoEnergyLoss, "Energy Loss", s); err != nil {
			return h, err
		}
		if tunnel {
			if h.tunnel, err = set.Create1DHistogram(HistoEnergyLossTunnel, "Energy Loss in Tunnel", s); err != nil {
				return h, err
			}
		}
	}
	if edges := distinctEdges(model.ElementEdges()); hc.PerElement && len(edges) > 1 {
		pe := rec.Explicit(edges)
		if h.phitsPE, err = set.Create1DHistogram(HistoPrimaryHitsPE, "Primary Hits per Element", pe); err != nil {
			return h, err
		}
		if h.plossPE, err = set.Create1DHistogram(HistoPrimaryLossPE, "Primary Loss per Element", pe); err != nil {
			return h, err
		}
		if h.elossPE, err = set.Create1DHistogram(HistoEnergyLossPE, "Energy Loss per Element", pe); err != nil {
			return h, err
		}
		if tunnel {
			if h.tunnelPE, err = set.Create1DHistogram(HistoEnergyLossTunnelPE, "Energy Loss in Tunnel per Element", pe); err != nil {
				return h, err
			}
		}
	}
	for _, m := range hc.Meshes {
		if !m.Is4D() {
			i, err := set.Create3DHistogram(m.Name, m.Name, m.X, m.Y, m.Z)
			if err != nil {
				return h, err
			}
			h.meshes = append(h.meshes, meshHandle{h: i})
			continue
		}
		if !v.Has(compat.Feature4DHistograms) {
			logrus.WithFields(logrus.Fields{"mesh": m.Name, "data_version": v}).Warn("data version has no 4D histograms, skipping mesh")
			continue
		}
		axis, err := meshEnergyAxis(m)
		if err != nil {
			return h, err
		}
		i, err := set.Create4DHistogram(m.Name, m.Name, m.X, m.Y, m.Z, axis)
		if err != nil {
			return h, err
		}
		h.meshes = append(h.meshes, meshHandle{h: i, is4D: true})
	}
	return h, nil
}

func meshEnergyAxis(m Mesh) (rec.EnergyAxis, error) {
	if m.EnergyEdgesFile == "" {
		return *m.Energy, nil
	}
	edges, err := rec.LoadEnergyEdges(m.EnergyEdgesFile)
	if err != nil {
		return rec.EnergyAxis{}, fmt.Errorf("mesh %q: %w", m.Name, err)
	}
	return rec.EnergyAxis{Scale: rec.ScaleUser, Edges: edges}, nil
}

// distinctEdges drops repeated boundaries left by zero length elements.
func distinctEdges(edges []float64) []float64 {
	out := make([]float64, 0, len(edges))
	for _, e := range edges {
		if len(out) == 0 || e > out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}

func fill1D(set *rec.Histos, h int, s, w float64) {
	if h >= 0 {
		set.Fill1DHistogram(h, s, w)
	}
}

// fillHistograms fills the event histograms and adds them to the run set.
func (r *Registry) fillHistograms(evt *hits.Event) error {
	set := r.EventHistos
	if set == nil {
		return nil
	}
	h := r.histos
	if d := evt.PrimaryFirstHit; d != nil {
		fill1D(set, h.phits, d.S/mmPerMetre, d.Weight)
		fill1D(set, h.phitsPE, d.S/mmPerMetre, d.Weight)
	}
	if d := evt.PrimaryLastHit; d != nil {
		fill1D(set, h.ploss, d.S/mmPerMetre, d.Weight)
		fill1D(set, h.plossPE, d.S/mmPerMetre, d.Weight)
	}
	for _, d := range evt.Eloss {
		fill1D(set, h.eloss, d.S/mmPerMetre, d.Energy*d.Weight)
		fill1D(set, h.elossPE, d.S/mmPerMetre, d.Energy*d.Weight)
		for _, m := range h.meshes {
			x, y, z := d.Global.X/mmPerMetre, d.Global.Y/mmPerMetre, d.Global.Z/mmPerMetre
			if m.is4D {
				set.Fill4DHistogram(m.h, x, y, z, d.PreStepKineticEnergy, d.Energy*d.Weight)
			} else {
				set.Fill3DHistogram(m.h, x, y, z, d.Energy*d.Weight)
			}
		}
	}
	for _, d := range evt.ElossTunnel {
		fill1D(set, h.tunnel, d.S/mmPerMetre, d.Energy*d.Weight)
		fill1D(set, h.tunnelPE, d.S/mmPerMetre, d.Energy*d.Weight)
	}
	if err := r.RunHistos.AccumulateAll(set); err != nil {
		return fmt.Errorf("accumulating event %d histograms: %w", evt.Index, err)
	}
	return nil
}
