package mesh

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ICPConfig holds configuration for the ICP algorithm.
// Distances are in mesh units and angles in radians unless noted.
type ICPConfig struct {
	Policy  WeightPolicy
	Weights WeightParams

	DynamicD     float64 // mean-distance unit of the dynamic schedule
	StaticThresh float64 // fixed acceptance distance, also the dynamic ceiling
	Breakpoints  DynamicBreakpoints

	ErrorT float64 // stop when the weighted residual drops below this
	DistT  float64 // stop when bounding-box corners move less than this
	AngleT float64 // stop when the rotation step is smaller than this
	TransT float64 // stop when the translation step is shorter than this

	MaxIter         int
	InnerIterations int // reweighting cap for sigmoid and lorentz

	NormalTDeg    float64 // fine matching normal compatibility, degrees
	FineMatching  bool
	OverlapFilter bool
	OverlapDelay  int     // iteration at which smart overlap switches on
	SmartOverlapT float64 // residual below which smart overlap switches on

	NPer          int   // perturbed restarts after the first attempt
	Seed          int64 // perturbation seed
	Parallel      int   // trials evaluated concurrently
	Workers       int   // MATCH workers per trial
	FeatureWeight float64

	Initial RigidTransform
	Verbose bool
}

// DefaultICPConfig returns sensible defaults for ICP.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		Policy:          WeightDynamic,
		Weights:         WeightParams{SigmoidDMid: 1, SigmoidK: 5, LorentzSigma: 1},
		DynamicD:        1,
		StaticThresh:    10,
		Breakpoints:     DefaultDynamicBreakpoints(),
		ErrorT:          1e-6,
		DistT:           1e-4,
		AngleT:          1e-4,
		TransT:          1e-4,
		MaxIter:         100,
		InnerIterations: 10,
		NormalTDeg:      60,
		Seed:            1,
		Parallel:        1,
		Workers:         1,
		FeatureWeight:   1,
		Initial:         IdentityTransform(),
	}
}

// smartOverlap reports whether overlap filtering waits for a trigger instead
// of being active from the first iteration.
func (c ICPConfig) smartOverlap() bool {
	return c.OverlapFilter && (c.OverlapDelay > 0 || c.SmartOverlapT > 0)
}

// innerCap is the number of fit passes per outer iteration.
func (c ICPConfig) innerCap() int {
	if c.Policy.Reweights() && c.InnerIterations > 1 {
		return c.InnerIterations
	}
	return 1
}

// Validate reports configuration errors before any work starts.
func (c ICPConfig) Validate() error {
	if _, ok := policyNames[c.Policy]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownWeightPolicy, c.Policy)
	}
	if c.Policy == WeightOracle && c.Weights.Oracle == nil {
		return fmt.Errorf("oracle weighting needs an oracle function")
	}
	if c.Policy == WeightLorentz && c.Weights.LorentzSigma <= 0 {
		return fmt.Errorf("lorentzSigma must be positive, got %g", c.Weights.LorentzSigma)
	}
	if c.Policy == WeightDynamic && c.DynamicD <= 0 {
		return fmt.Errorf("dynamicD must be positive, got %g", c.DynamicD)
	}
	if c.StaticThresh <= 0 {
		return fmt.Errorf("staticThresh must be positive, got %g", c.StaticThresh)
	}
	if c.MaxIter <= 0 {
		return fmt.Errorf("maxIter must be positive, got %d", c.MaxIter)
	}
	if c.NPer < 0 {
		return fmt.Errorf("nPer must not be negative, got %d", c.NPer)
	}
	return nil
}

type phase int

const (
	phaseInit phase = iota
	phaseMatch
	phaseFit
	phaseUpdate
	phaseConverged
)

// loopState is everything one ICP attempt carries between steps.
type loopState struct {
	phase phase

	total   RigidTransform
	corners [8]r3.Vec // model bounding box corners under total

	threshold float64 // acceptance distance for the next MATCH
	dMax      float64

	overlapActive bool
	overlapDelay  int

	iteration int
	err       float64
	pairs     []MatchedPair

	delta        RigidTransform // this iteration's accumulated fit
	cornerMotion float64
	fitted       bool // at least one UPDATE completed

	reason    string
	converged bool
}

// icpRun holds the read-only inputs shared by every step of an attempt.
type icpRun struct {
	model   *Mesh
	scene   *Mesh
	index   *NNIndex
	cfg     ICPConfig
	corners [8]r3.Vec
}

func newICPRun(model, scene *Mesh, index *NNIndex, cfg ICPConfig) *icpRun {
	return &icpRun{model: model, scene: scene, index: index, cfg: cfg, corners: model.Corners()}
}

// run drives one attempt from start until it converges, fails or ctx ends.
func (r *icpRun) run(ctx context.Context, start RigidTransform) (RegistrationResult, error) {
	s := loopState{phase: phaseInit, total: start}
	var err error
	for s.phase != phaseConverged {
		if cerr := ctx.Err(); cerr != nil {
			return s.result(), cerr
		}
		s, err = r.step(ctx, s)
		if err != nil {
			if errors.Is(err, ErrInsufficientCorrespondences) && s.fitted {
				return s.result(), nil
			}
			return s.result(), err
		}
	}
	return s.result(), nil
}

func (s loopState) result() RegistrationResult {
	res := RegistrationResult{
		Transform:  s.total,
		Error:      s.err,
		Iterations: s.iteration,
		Converged:  s.converged,
		Reason:     s.reason,
		Trials:     1,
	}
	if !s.fitted {
		res.Error = math.Inf(1)
	}
	res.Pairs = make([]PairIndex, len(s.pairs))
	for i, p := range s.pairs {
		res.Pairs[i] = PairIndex{Model: p.ModelIndex, Scene: p.SceneIndex}
	}
	return res
}

// step performs one state transition. s is taken by value; the returned
// state shares only the pairs buffer produced in this step.
func (r *icpRun) step(ctx context.Context, s loopState) (loopState, error) {
	cfg := r.cfg
	switch s.phase {
	case phaseInit:
		for i, c := range r.corners {
			s.corners[i] = s.total.Apply(c)
		}
		s.threshold = cfg.StaticThresh
		s.dMax = cfg.StaticThresh
		s.overlapActive = cfg.OverlapFilter && !cfg.smartOverlap()
		s.overlapDelay = cfg.OverlapDelay
		s.err = math.Inf(1)
		s.phase = phaseMatch
		return s, nil

	case phaseMatch:
		pairs, err := FindCorrespondences(ctx, CorrespondenceRequest{
			Model:           r.model,
			Scene:           r.scene,
			Index:           r.index,
			Transform:       s.total,
			FineMatching:    cfg.FineMatching,
			NormalThreshold: cfg.NormalTDeg * math.Pi / 180,
			DistThreshold:   s.threshold,
			OverlapFilter:   s.overlapActive,
			Workers:         cfg.Workers,
		})
		if err != nil {
			return s, err
		}
		if len(pairs) < 3 {
			s.reason = ErrInsufficientCorrespondences.Error()
			s.phase = phaseConverged
			return s, fmt.Errorf("%w: %d pairs at iteration %d", ErrInsufficientCorrespondences, len(pairs), s.iteration)
		}
		s.pairs = pairs
		s.phase = phaseFit
		return s, nil

	case phaseFit:
		delta, err := r.fit(s)
		if err != nil {
			return s, err
		}
		s.delta = delta
		s.phase = phaseUpdate
		return s, nil

	case phaseUpdate:
		return r.update(s), nil
	}
	return s, nil
}

// fit runs the inner reweighting loop over the current pairs and returns the
// accumulated delta transform. Pair model coordinates and distances are
// moved along with each pass.
func (r *icpRun) fit(s loopState) (RigidTransform, error) {
	cfg := r.cfg
	pairs := s.pairs
	model := make([]r3.Vec, len(pairs))
	scene := make([]r3.Vec, len(pairs))
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		scene[i] = p.Scene
	}
	corners := s.corners

	delta := IdentityTransform()
	for inner := 0; inner < cfg.innerCap(); inner++ {
		minW, maxW := ComputeWeights(pairs, cfg.Policy, cfg.Weights)
		for i, p := range pairs {
			model[i] = p.Model
			weights[i] = p.Weight
		}
		rf, err := WeightedRigidFit(model, scene, weights)
		if err != nil {
			return delta, err
		}
		step := rf.Transform
		delta = delta.Compose(step)
		for i := range pairs {
			pairs[i].Model = step.Apply(pairs[i].Model)
			pairs[i].Distance = r3.Norm(r3.Sub(pairs[i].Model, pairs[i].Scene))
		}

		motion := 0.0
		for i, c := range corners {
			moved := step.Apply(c)
			motion = math.Max(motion, r3.Norm(r3.Sub(moved, c)))
			corners[i] = moved
		}
		if cfg.Verbose {
			Logf("icp: iter %d inner %d weights [%.3g, %.3g] fit %.6g corner motion %.6g",
				s.iteration, inner, minW, maxW, rf.Error, motion)
		}
		if motion < cfg.DistT {
			break
		}
	}
	return delta, nil
}

// update composes the delta into the total, refreshes the corners, the
// residual and the dynamic threshold, and applies the convergence test.
func (r *icpRun) update(s loopState) loopState {
	cfg := r.cfg
	s.total = s.total.Compose(s.delta)
	s.cornerMotion = 0
	for i, c := range r.corners {
		moved := s.total.Apply(c)
		s.cornerMotion = math.Max(s.cornerMotion, r3.Norm(r3.Sub(moved, s.corners[i])))
		s.corners[i] = moved
	}

	s.err = 0
	for _, p := range s.pairs {
		s.err += p.Weight * p.Distance * p.Distance
	}
	s.iteration++
	s.fitted = true

	if cfg.Policy == WeightDynamic {
		s.threshold = cfg.Breakpoints.Threshold(s.pairs, cfg.DynamicD, s.dMax)
	}

	if cfg.smartOverlap() && !s.overlapActive &&
		(s.err < cfg.SmartOverlapT || s.iteration == s.overlapDelay) {
		s.overlapActive = true
		s.overlapDelay = s.iteration
		if cfg.Verbose {
			Logf("icp: overlap filtering enabled at iteration %d (error %.6g)", s.iteration, s.err)
		}
	}

	rx, ry, rz := s.delta.eulerAngles()
	angleStep := math.Sqrt(rx*rx + ry*ry + rz*rz)
	transStep := r3.Norm(s.delta.T)
	if cfg.Verbose {
		Logf("icp: iter %d pairs %d error %.6g motion %.6g dt %.6g dr %.6g threshold %.6g",
			s.iteration, len(s.pairs), s.err, s.cornerMotion, transStep, angleStep, s.threshold)
	}

	s.phase = phaseMatch
	switch {
	case s.err <= cfg.ErrorT:
		s.reason = "error below threshold"
	case s.cornerMotion <= cfg.DistT:
		s.reason = "corner motion below threshold"
	case transStep <= cfg.TransT:
		s.reason = "translation step below threshold"
	case angleStep <= cfg.AngleT:
		s.reason = "rotation step below threshold"
	case s.iteration >= cfg.MaxIter:
		s.reason = "iteration limit reached"
		s.phase = phaseConverged
		return s
	default:
		return s
	}
	s.converged = true
	s.phase = phaseConverged
	return s
}
