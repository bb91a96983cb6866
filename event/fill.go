package event

import (
	"fmt"

	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

// FillEvent routes the hit collections of one event into the live records,
// runs the deferred extras passes and fills the event histograms, which are
// then added to the run histograms. Hit indices are checked before anything
// is filled, so an error leaves every record untouched.
func (r *Registry) FillEvent(evt *hits.Event) error {
	if r.Info == nil {
		return ErrNotInitialised
	}
	if err := r.checkIndices(evt); err != nil {
		return fmt.Errorf("filling event %d: %w", evt.Index, err)
	}
	r.started = true

	if r.Primary != nil && evt.Primary != nil {
		r.Primary.Fill(*evt.Primary)
		r.Primary.FillExtras(r.table)
	}
	if r.PrimaryGlobal != nil && evt.PrimaryGlobal != nil {
		r.PrimaryGlobal.Fill(*evt.PrimaryGlobal)
	}

	for _, h := range evt.Samplers {
		r.SamplerCollection(h.Shape).items[h.Sampler].Fill(h)
	}
	for _, c := range []*Collection[rec.Sampler]{&r.Samplers, &r.SamplersC, &r.SamplersS} {
		c.each(func(s *rec.Sampler) { s.FillExtras(r.table) })
	}

	fillLoss(r.Eloss, evt.Eloss)
	fillLoss(r.ElossVacuum, evt.ElossVacuum)
	fillLoss(r.ElossTunnel, evt.ElossTunnel)
	fillLoss(r.ElossWorldContents, evt.ElossWorldContents)
	fillLossWorld(r.ElossWorld, evt.ElossWorld)
	fillLossWorld(r.ElossWorldExit, evt.ElossWorldExit)
	if r.PrimaryFirstHit != nil && evt.PrimaryFirstHit != nil {
		r.PrimaryFirstHit.Fill(*evt.PrimaryFirstHit)
	}
	if r.PrimaryLastHit != nil && evt.PrimaryLastHit != nil {
		r.PrimaryLastHit.Fill(*evt.PrimaryLastHit)
	}

	nInteracted := int32(0)
	for _, h := range evt.Collimators {
		r.Collimators.items[h.Collimator].Fill(h)
	}
	for i, c := range r.Collimators.items {
		if evt.PrimaryStopped && i == evt.PrimaryStoppedIn {
			c.SetPrimaryStopped(true)
		}
		c.FillExtras(r.table)
		if c.PrimaryInteracted {
			nInteracted++
		}
	}

	if r.ApertureImpacts != nil {
		for _, h := range evt.ApertureImpacts {
			r.ApertureImpacts.Fill(h)
		}
		r.ApertureImpacts.FillExtras(r.table)
	}
	if r.Trajectory != nil {
		for _, t := range evt.Tracks {
			r.Trajectory.Fill(t)
		}
	}

	r.Info.Fill(evt.Index, evt.Info)
	r.Info.SetEnergies(Totals(evt))
	r.Info.EnergyImpactingAperture = r.apertureEnergy(evt.ApertureImpacts)
	r.Info.PrimaryHitMachine = evt.PrimaryFirstHit != nil
	r.Info.PrimaryAbsorbedInCollimator = evt.PrimaryStopped && evt.PrimaryStoppedIn >= 0 && evt.PrimaryStoppedIn < r.Collimators.Len()
	r.Info.NCollimatorsInteracted = nInteracted

	return r.fillHistograms(evt)
}

func (r *Registry) checkIndices(evt *hits.Event) error {
	for _, h := range evt.Samplers {
		c := r.SamplerCollection(h.Shape)
		if h.Sampler < 0 || h.Sampler >= c.Len() {
			return fmt.Errorf("%w: %s sampler %d of %d", ErrUnknownIndex, h.Shape, h.Sampler, c.Len())
		}
	}
	for _, h := range evt.Collimators {
		if h.Collimator < 0 || h.Collimator >= r.Collimators.Len() {
			return fmt.Errorf("%w: collimator %d of %d", ErrUnknownIndex, h.Collimator, r.Collimators.Len())
		}
	}
	return nil
}

func fillLoss(l *rec.Loss, deposits []hits.EnergyDeposit) {
	if l == nil {
		return
	}
	for _, d := range deposits {
		l.Fill(d)
	}
}

func fillLossWorld(l *rec.LossWorld, deposits []hits.EnergyDeposit) {
	if l == nil {
		return
	}
	for _, d := range deposits {
		l.Fill(d)
	}
}

// Totals computes the itemised energy sums of an event from its hits, so
// they are correct whether or not the matching branches are stored.
func Totals(evt *hits.Event) rec.EnergyTotals {
	return rec.EnergyTotals{
		Deposited:              weightedSum(evt.Eloss),
		DepositedVacuum:        weightedSum(evt.ElossVacuum),
		DepositedWorld:         weightedSum(evt.ElossWorld),
		DepositedWorldContents: weightedSum(evt.ElossWorldContents),
		DepositedTunnel:        weightedSum(evt.ElossTunnel),
		WorldExit:              weightedSum(evt.ElossWorldExit),
		Killed:                 evt.Info.EnergyKilled,
	}
}

func weightedSum(deposits []hits.EnergyDeposit) float64 {
	var sum float64
	for _, d := range deposits {
		sum += d.Energy * d.Weight
	}
	return sum
}

func (r *Registry) apertureEnergy(impacts []hits.ApertureImpact) float64 {
	if r.table == nil {
		return 0
	}
	var sum float64
	for _, h := range impacts {
		sum += r.table.KineticEnergy(h.PDG, h.TotalEnergy) * h.Weight
	}
	return sum
}
