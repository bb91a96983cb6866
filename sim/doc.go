// Package sim is a deterministic toy beam line simulation used to exercise
// the output layer.
//
// # Reading Guide
//
//   - lattice.go: the straight beam line (drifts, quadrupoles, collimators)
//     and the samplers attached to it
//   - generator.go: one primary tracked through the line, producing the hit
//     collections of an event
//   - run.go: a whole run driven through output.Writer
//   - rng.go: per-subsystem random streams derived from one seed
//
// Units follow the hits package: mm, GeV and ns in the hits; the lattice is
// described in metres.
package sim
