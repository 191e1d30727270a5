package mesh

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// WeightPolicy selects how matched pairs are weighted in the rigid fit.
type WeightPolicy int

const (
	WeightStatic WeightPolicy = iota
	WeightDynamic
	WeightSigmoid
	WeightLorentz
	// WeightOracle takes per-pair weights from WeightParams.Oracle. It is a
	// test and debugging hook, never a default.
	WeightOracle
)

var policyNames = map[WeightPolicy]string{
	WeightStatic:  "static",
	WeightDynamic: "dynamic",
	WeightSigmoid: "sigmoid",
	WeightLorentz: "lorentz",
	WeightOracle:  "oracle",
}

func (p WeightPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("WeightPolicy(%d)", int(p))
}

// ParseWeightPolicy maps a policy name to its WeightPolicy.
func ParseWeightPolicy(name string) (WeightPolicy, error) {
	for p, s := range policyNames {
		if strings.EqualFold(strings.TrimSpace(name), s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeightPolicy, name)
}

// Reweights reports whether the policy iterates the inner reweighting loop.
func (p WeightPolicy) Reweights() bool {
	return p == WeightSigmoid || p == WeightLorentz
}

// OracleWeight supplies an externally known weight for a pair.
type OracleWeight func(MatchedPair) float64

// WeightParams carries the per-policy constants.
type WeightParams struct {
	SigmoidDMid  float64
	SigmoidK     float64
	LorentzSigma float64
	Oracle       OracleWeight
}

// raw returns the unnormalized weight of a pair.
func (p WeightPolicy) raw(pair MatchedPair, params WeightParams) float64 {
	switch p {
	case WeightSigmoid:
		e := math.Exp(params.SigmoidK * (params.SigmoidDMid - pair.Distance))
		if math.IsInf(e, 1) {
			return 1
		}
		return e / (1 + e)
	case WeightLorentz:
		r := pair.Distance / params.LorentzSigma
		return 1 / (1 + 0.5*r*r)
	case WeightOracle:
		if params.Oracle == nil {
			return 1
		}
		return params.Oracle(pair)
	default:
		return 1
	}
}

// ComputeWeights assigns L1-normalized weights to pairs in place and returns
// the smallest and largest weight. If every raw weight is zero the pairs
// fall back to uniform weights.
func ComputeWeights(pairs []MatchedPair, policy WeightPolicy, params WeightParams) (minW, maxW float64) {
	n := len(pairs)
	if n == 0 {
		return 0, 0
	}
	total := 0.0
	for i := range pairs {
		w := policy.raw(pairs[i], params)
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		pairs[i].Weight = w
		total += w
	}
	if total == 0 {
		for i := range pairs {
			pairs[i].Weight = 1
		}
		total = float64(n)
	}

	minW, maxW = math.Inf(1), math.Inf(-1)
	for i := range pairs {
		pairs[i].Weight /= total
		minW = math.Min(minW, pairs[i].Weight)
		maxW = math.Max(maxW, pairs[i].Weight)
	}
	return minW, maxW
}

// DynamicBreakpoints is the staged outlier schedule: when the mean distance
// is below Bounds[i]·d the threshold is mean + Sigmas[i]·std.
type DynamicBreakpoints struct {
	Bounds [3]float64
	Sigmas [3]float64
}

// DefaultDynamicBreakpoints returns the 1/3/6 schedule with 3/2/1 sigmas.
func DefaultDynamicBreakpoints() DynamicBreakpoints {
	return DynamicBreakpoints{Bounds: [3]float64{1, 3, 6}, Sigmas: [3]float64{3, 2, 1}}
}

// DynamicDistanceThreshold computes the acceptance distance for the next
// MATCH from the current pair distances with the default schedule.
func DynamicDistanceThreshold(pairs []MatchedPair, d, dMax float64) float64 {
	return DefaultDynamicBreakpoints().Threshold(pairs, d, dMax)
}

// Threshold applies the schedule to pairs. With no pairs it returns dMax.
func (b DynamicBreakpoints) Threshold(pairs []MatchedPair, d, dMax float64) float64 {
	if len(pairs) == 0 {
		return dMax
	}
	dist := make([]float64, len(pairs))
	for i, p := range pairs {
		dist[i] = p.Distance
	}
	mean, std := stat.MeanStdDev(dist, nil)
	if len(dist) < 2 || math.IsNaN(std) {
		std = 0
	}
	for i, bound := range b.Bounds {
		if mean < bound*d {
			return mean + b.Sigmas[i]*std
		}
	}
	return dMax
}
