package load

import "github.com/beamrec/beamrec/rec"

// samplerSuffix ends every sampler branch name.
const samplerSuffix = "."

// samplerCandidates lists the stored names a sampler may have, in the order
// they are tried: the raw name, then the name with the sampler suffix.
func samplerCandidates(name string) []string {
	return []string{name, name + samplerSuffix}
}

// collimatorCandidates lists the stored names a collimator may have: the raw
// name, the sampler-style suffix, the branch prefix and the prefix with the
// placement copy number of older files.
func collimatorCandidates(name string) []string {
	return []string{
		name,
		name + samplerSuffix,
		rec.BranchPrefix + name,
		rec.BranchPrefix + name + "_0",
	}
}

// resolve returns the first candidate present in has.
func resolve(candidates []string, has func(string) bool) (string, bool) {
	for _, c := range candidates {
		if has(c) {
			return c, true
		}
	}
	return "", false
}
