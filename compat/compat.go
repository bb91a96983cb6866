// Package compat centralises every decision that depends on a file's data
// version: which trees and branches exist and under which names.
//
// Writers and loaders never compare versions themselves; they ask this
// package whether a logical branch exists in a version and what it is called.
package compat

import (
	"errors"
	"fmt"
)

// ErrUnknownVersion is returned for data versions this build cannot read.
var ErrUnknownVersion = errors.New("unknown data version")

// DataVersion tags a structural generation of the file layout.
type DataVersion int32

const (
	// V1 has a single combined Eloss branch and an Info summary.
	V1 DataVersion = iota + 1
	// V2 splits vacuum, tunnel and world energy loss out of Eloss.
	V2
	// V3 renames Info to Summary and adds ElossWorldExit.
	V3
	// V4 adds PrimaryGlobal, ElossWorldContents and the collimator and cavity
	// info columns of the model.
	V4
	// V5 adds ApertureImpacts and the ParticleData tree.
	V5
	// V6 adds cylindrical and spherical samplers and 4D histograms.
	V6
)

// Current is the version new files are written with.
const Current = V6

// Parse validates a stored version number.
func Parse(v int32) (DataVersion, error) {
	if v < int32(V1) || v > int32(Current) {
		return 0, fmt.Errorf("%w: %d (supported %d..%d)", ErrUnknownVersion, v, V1, Current)
	}
	return DataVersion(v), nil
}

func (v DataVersion) String() string { return fmt.Sprintf("v%d", int32(v)) }

// Tree names.
const (
	TreeHeader       = "Header"
	TreeParticleData = "ParticleData"
	TreeBeam         = "Beam"
	TreeOptions      = "Options"
	TreeModel        = "Model"
	TreeRun          = "Run"
	TreeEvent        = "Event"
)

// Branch is a logical branch, independent of its stored name.
type Branch string

const (
	Header             Branch = "Header"
	ParticleData       Branch = "ParticleData"
	Beam               Branch = "Beam"
	Options            Branch = "Options"
	Model              Branch = "Model"
	RunSummary         Branch = "RunSummary"
	RunHistos          Branch = "RunHistos"
	Primary            Branch = "Primary"
	PrimaryGlobal      Branch = "PrimaryGlobal"
	Eloss              Branch = "Eloss"
	ElossVacuum        Branch = "ElossVacuum"
	ElossTunnel        Branch = "ElossTunnel"
	ElossWorld         Branch = "ElossWorld"
	ElossWorldExit     Branch = "ElossWorldExit"
	ElossWorldContents Branch = "ElossWorldContents"
	PrimaryFirstHit    Branch = "PrimaryFirstHit"
	PrimaryLastHit     Branch = "PrimaryLastHit"
	Trajectory         Branch = "Trajectory"
	ApertureImpacts    Branch = "ApertureImpacts"
	EventHistos        Branch = "Histos"
	EventSummary       Branch = "Summary"
)

// Feature is a structural capability that is not a single branch.
type Feature int

const (
	FeatureModelInfo Feature = iota
	FeatureShapedSamplers
	Feature4DHistograms
	FeatureParticleDataTree
)

type naming struct {
	tree  string
	name  string
	since DataVersion
	// last version with this name, 0 while still current
	until DataVersion
}

// branches lists every logical branch with its tree and the stored name per
// version range.
var branches = map[Branch][]naming{
	Header:             {{TreeHeader, "Header", V1, 0}},
	ParticleData:       {{TreeParticleData, "ParticleData", V5, 0}},
	Beam:               {{TreeBeam, "Beam", V1, 0}},
	Options:            {{TreeOptions, "Options", V1, 0}},
	Model:              {{TreeModel, "Model", V1, 0}},
	RunSummary:         {{TreeRun, "Info", V1, V2}, {TreeRun, "Summary", V3, 0}},
	RunHistos:          {{TreeRun, "Histos", V1, 0}},
	Primary:            {{TreeEvent, "Primary", V1, 0}},
	PrimaryGlobal:      {{TreeEvent, "PrimaryGlobal", V4, 0}},
	Eloss:              {{TreeEvent, "Eloss", V1, 0}},
	ElossVacuum:        {{TreeEvent, "ElossVacuum", V2, 0}},
	ElossTunnel:        {{TreeEvent, "ElossTunnel", V2, 0}},
	ElossWorld:         {{TreeEvent, "ElossWorld", V2, 0}},
	ElossWorldExit:     {{TreeEvent, "ElossWorldExit", V3, 0}},
	ElossWorldContents: {{TreeEvent, "ElossWorldContents", V4, 0}},
	PrimaryFirstHit:    {{TreeEvent, "PrimaryFirstHit", V1, 0}},
	PrimaryLastHit:     {{TreeEvent, "PrimaryLastHit", V1, 0}},
	Trajectory:         {{TreeEvent, "Trajectory", V1, 0}},
	ApertureImpacts:    {{TreeEvent, "ApertureImpacts", V5, 0}},
	EventHistos:        {{TreeEvent, "Histos", V1, 0}},
	EventSummary:       {{TreeEvent, "Info", V1, V2}, {TreeEvent, "Summary", V3, 0}},
}

var features = map[Feature]DataVersion{
	FeatureModelInfo:        V4,
	FeatureParticleDataTree: V5,
	FeatureShapedSamplers:   V6,
	Feature4DHistograms:     V6,
}

// EventBranches lists the fixed Event tree branches in declaration order.
var EventBranches = []Branch{
	Primary, PrimaryGlobal, Eloss, ElossVacuum, ElossTunnel, ElossWorld,
	ElossWorldExit, ElossWorldContents, PrimaryFirstHit, PrimaryLastHit,
	Trajectory, ApertureImpacts, EventHistos, EventSummary,
}

// Lookup returns the tree and stored name of a logical branch in version v.
// ok is false when the branch does not exist in that version.
func Lookup(v DataVersion, b Branch) (tree, name string, ok bool) {
	for _, n := range branches[b] {
		if v >= n.since && (n.until == 0 || v <= n.until) {
			return n.tree, n.name, true
		}
	}
	return "", "", false
}

// Name returns the stored name of b in version v, or "" when absent.
func Name(v DataVersion, b Branch) string {
	_, name, _ := Lookup(v, b)
	return name
}

// Exists reports whether b is present in version v.
func Exists(v DataVersion, b Branch) bool {
	_, _, ok := Lookup(v, b)
	return ok
}

// Has reports whether version v carries a structural feature.
func (v DataVersion) Has(f Feature) bool {
	since, ok := features[f]
	return ok && v >= since
}

// HasTree reports whether a tree exists in version v.
func HasTree(v DataVersion, tree string) bool {
	if tree == TreeParticleData {
		return v.Has(FeatureParticleDataTree)
	}
	return true
}

// Names returns every stored name b has had in any version, oldest first.
func Names(b Branch) []string {
	var out []string
	for _, n := range branches[b] {
		out = append(out, n.name)
	}
	return out
}
