package rec

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/beamrec/beamrec/column"
)

// ErrFrozen is returned by mutators of a frozen particle table.
var ErrFrozen = errors.New("particle table is frozen")

// SpeedOfLight in units that turn GeV/c into T·m.
const SpeedOfLight = 0.29979245799999998

// AtomicMassUnit in GeV, used for ions not present in the table.
const AtomicMassUnit = 0.9314941024

// ParticleInfo describes a non-ion particle.
type ParticleInfo struct {
	Name   string
	Charge int32
	Mass   float64
}

// IonInfo describes an ion.
type IonInfo struct {
	Name   string
	Charge int32
	Mass   float64
	A      int32
	Z      int32
}

// ParticleData is the run-scope particle property table. It is populated once
// before the event loop, frozen, and then shared read-only by every record
// that derives columns from particle properties.
type ParticleData struct {
	fieldSet
	frozen    bool
	particles map[int32]ParticleInfo
	ions      map[int32]IonInfo

	pdg     []int32
	name    []string
	charge  []int32
	mass    []float64
	ionPDG  []int32
	ionName []string
	ionQ    []int32
	ionMass []float64
	ionA    []int32
	ionZ    []int32
}

// NewParticleData returns an empty, writable table.
func NewParticleData() *ParticleData {
	p := &ParticleData{
		particles: make(map[int32]ParticleInfo),
		ions:      make(map[int32]IonInfo),
	}
	p.bind(
		column.Int32s("particlePDG", &p.pdg),
		column.Strings("particleName", &p.name),
		column.Int32s("particleCharge", &p.charge),
		column.Float64s("particleMass", &p.mass),
		column.Int32s("ionPDG", &p.ionPDG),
		column.Strings("ionName", &p.ionName),
		column.Int32s("ionCharge", &p.ionQ),
		column.Float64s("ionMass", &p.ionMass),
		column.Int32s("ionA", &p.ionA),
		column.Int32s("ionZ", &p.ionZ),
	)
	return p
}

// DefaultParticleData returns a frozen table with the common beam and
// shower particles.
func DefaultParticleData() *ParticleData {
	p := NewParticleData()
	for pdg, info := range map[int32]ParticleInfo{
		11:    {"e-", -1, 0.00051099895},
		-11:   {"e+", 1, 0.00051099895},
		13:    {"mu-", -1, 0.1056583755},
		-13:   {"mu+", 1, 0.1056583755},
		22:    {"gamma", 0, 0},
		111:   {"pi0", 0, 0.1349768},
		211:   {"pi+", 1, 0.13957039},
		-211:  {"pi-", -1, 0.13957039},
		321:   {"kaon+", 1, 0.493677},
		-321:  {"kaon-", -1, 0.493677},
		2112:  {"neutron", 0, 0.93956542052},
		2212:  {"proton", 1, 0.93827208816},
		-2212: {"anti_proton", -1, 0.93827208816},
	} {
		_ = p.AddParticle(pdg, info)
	}
	p.Freeze()
	return p
}

func (p *ParticleData) Kind() string { return KindParticleData }
func (p *ParticleData) Version() int { return ParticleDataVersion }
func (p *ParticleData) Frozen() bool { return p.frozen }

// Freeze makes the table read-only.
func (p *ParticleData) Freeze() { p.frozen = true }

// AddParticle registers a non-ion particle.
func (p *ParticleData) AddParticle(pdg int32, info ParticleInfo) error {
	if p.frozen {
		return fmt.Errorf("adding particle %d: %w", pdg, ErrFrozen)
	}
	p.particles[pdg] = info
	return nil
}

// AddIon registers an ion.
func (p *ParticleData) AddIon(pdg int32, info IonInfo) error {
	if p.frozen {
		return fmt.Errorf("adding ion %d: %w", pdg, ErrFrozen)
	}
	p.ions[pdg] = info
	return nil
}

// Flush empties the table and makes it writable again.
func (p *ParticleData) Flush() {
	column.ResetAll(p.fields)
	clear(p.particles)
	clear(p.ions)
	p.frozen = false
}

// FillFrom copies another table.
func (p *ParticleData) FillFrom(other *ParticleData) {
	p.Flush()
	for k, v := range other.particles {
		p.particles[k] = v
	}
	for k, v := range other.ions {
		p.ions[k] = v
	}
	p.frozen = other.frozen
}

// IsIonPDG reports whether pdg uses the nuclear code 100ZZZAAAI.
func IsIonPDG(pdg int32) bool { return pdg >= 1000000000 }

// Known reports whether the table has an entry for pdg.
func (p *ParticleData) Known(pdg int32) bool {
	if _, ok := p.particles[pdg]; ok {
		return true
	}
	_, ok := p.ions[pdg]
	return ok
}

func (p *ParticleData) IsIon(pdg int32) bool {
	if _, ok := p.ions[pdg]; ok {
		return true
	}
	return IsIonPDG(pdg)
}

func (p *ParticleData) Name(pdg int32) string {
	if info, ok := p.particles[pdg]; ok {
		return info.Name
	}
	if info, ok := p.ions[pdg]; ok {
		return info.Name
	}
	return ""
}

// Charge returns the charge in units of e. Ions missing from the table are
// taken as fully stripped.
func (p *ParticleData) Charge(pdg int32) int32 {
	if info, ok := p.particles[pdg]; ok {
		return info.Charge
	}
	if info, ok := p.ions[pdg]; ok {
		return info.Charge
	}
	if IsIonPDG(pdg) {
		return ionZFromPDG(pdg)
	}
	return 0
}

// Mass returns the rest mass in GeV.
func (p *ParticleData) Mass(pdg int32) float64 {
	if info, ok := p.particles[pdg]; ok {
		return info.Mass
	}
	if info, ok := p.ions[pdg]; ok {
		return info.Mass
	}
	if IsIonPDG(pdg) {
		return float64(ionAFromPDG(pdg)) * AtomicMassUnit
	}
	return 0
}

func (p *ParticleData) IonA(pdg int32) int32 {
	if info, ok := p.ions[pdg]; ok {
		return info.A
	}
	if IsIonPDG(pdg) {
		return ionAFromPDG(pdg)
	}
	return 0
}

func (p *ParticleData) IonZ(pdg int32) int32 {
	if info, ok := p.ions[pdg]; ok {
		return info.Z
	}
	if IsIonPDG(pdg) {
		return ionZFromPDG(pdg)
	}
	return 0
}

// NElectrons returns the number of bound electrons of an ion.
func (p *ParticleData) NElectrons(pdg int32) int32 {
	if !p.IsIon(pdg) {
		return 0
	}
	return max(p.IonZ(pdg)-p.Charge(pdg), 0)
}

// Rigidity returns the magnetic rigidity in T·m for a particle of total
// energy E in GeV, or 0 for neutral particles and E <= m.
func (p *ParticleData) Rigidity(pdg int32, totalEnergy float64) float64 {
	return Rigidity(p.Charge(pdg), p.Mass(pdg), totalEnergy)
}

// KineticEnergy returns E - m.
func (p *ParticleData) KineticEnergy(pdg int32, totalEnergy float64) float64 {
	return totalEnergy - p.Mass(pdg)
}

// Rigidity is sqrt(E² − m²) / c / charge.
func Rigidity(charge int32, mass, totalEnergy float64) float64 {
	if charge == 0 || totalEnergy <= mass {
		return 0
	}
	return math.Sqrt(totalEnergy*totalEnergy-mass*mass) / SpeedOfLight / float64(charge)
}

func ionZFromPDG(pdg int32) int32 { return (pdg / 10000) % 1000 }
func ionAFromPDG(pdg int32) int32 { return (pdg / 10) % 1000 }

// PrepareWrite flattens the lookup maps into columns ordered by code.
func (p *ParticleData) PrepareWrite() {
	column.ResetAll(p.fields)
	codes := make([]int32, 0, len(p.particles))
	for k := range p.particles {
		codes = append(codes, k)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, k := range codes {
		info := p.particles[k]
		p.pdg = append(p.pdg, k)
		p.name = append(p.name, info.Name)
		p.charge = append(p.charge, info.Charge)
		p.mass = append(p.mass, info.Mass)
	}
	codes = codes[:0]
	for k := range p.ions {
		codes = append(codes, k)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, k := range codes {
		info := p.ions[k]
		p.ionPDG = append(p.ionPDG, k)
		p.ionName = append(p.ionName, info.Name)
		p.ionQ = append(p.ionQ, info.Charge)
		p.ionMass = append(p.ionMass, info.Mass)
		p.ionA = append(p.ionA, info.A)
		p.ionZ = append(p.ionZ, info.Z)
	}
}

// AfterLoad rebuilds the lookup maps from the decoded columns and freezes
// the table.
func (p *ParticleData) AfterLoad() {
	clear(p.particles)
	clear(p.ions)
	for i, k := range p.pdg {
		info := ParticleInfo{}
		if i < len(p.name) {
			info.Name = p.name[i]
		}
		if i < len(p.charge) {
			info.Charge = p.charge[i]
		}
		if i < len(p.mass) {
			info.Mass = p.mass[i]
		}
		p.particles[k] = info
	}
	for i, k := range p.ionPDG {
		info := IonInfo{}
		if i < len(p.ionName) {
			info.Name = p.ionName[i]
		}
		if i < len(p.ionQ) {
			info.Charge = p.ionQ[i]
		}
		if i < len(p.ionMass) {
			info.Mass = p.ionMass[i]
		}
		if i < len(p.ionA) {
			info.A = p.ionA[i]
		}
		if i < len(p.ionZ) {
			info.Z = p.ionZ[i]
		}
		p.ions[k] = info
	}
	p.frozen = true
}
