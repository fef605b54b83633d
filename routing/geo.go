/*
Logic:       A data-residency constraint: workers declare the regions
             they may serve; a caller's allowed-region set filters
             candidates down to those permitted.
Root Cause:  SPEC_FULL.md §11 "Geo/data-residency constraint": an
             additional Model Manager constraint, dropping workers
             outside the caller's allowed region set, alongside
             max_cost_per_call/force_local (§4.3).
Context:     No example repo in the pack implements geo/residency
             routing; written directly from the constraint above.
             Callers already know their allowed regions (a principal/
             compliance attribute, not something derived from request
             IP), so this is a plain region-membership filter over
             worker descriptors rather than any IP-to-region resolution.
*/
package routing

// Region is a geographic/data-residency zone a worker may be declared to
// serve.
type Region string

const (
	RegionUSEast    Region = "us-east"
	RegionUSWest    Region = "us-west"
	RegionEUWest    Region = "eu-west"
	RegionEUCentral Region = "eu-central"
	RegionAPSE      Region = "ap-southeast"
	RegionAPNE      Region = "ap-northeast"
	RegionGlobal    Region = "global" // serves every region
)

// AllowedInRegions reports whether a worker declaring workerRegions may
// serve a caller restricted to allowedRegions. An empty allowedRegions
// set means no restriction; a worker declaring RegionGlobal serves any
// restriction.
func AllowedInRegions(workerRegions []Region, allowedRegions []Region) bool {
	if len(allowedRegions) == 0 {
		return true
	}
	for _, wr := range workerRegions {
		if wr == RegionGlobal {
			return true
		}
		for _, ar := range allowedRegions {
			if wr == ar {
				return true
			}
		}
	}
	return false
}
