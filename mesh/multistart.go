package mesh

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// perturbMaxAngle bounds the rotation of a restart, in radians (5°).
	perturbMaxAngle = 5 * math.Pi / 180
	// perturbResolutions bounds each translation component of a restart in
	// multiples of the scene resolution.
	perturbResolutions = 5
)

// Register aligns model onto scene. It runs ICP from cfg.Initial and then
// from cfg.NPer perturbations of the best transform found so far, keeping
// the lowest-error result. Iterations sums every trial.
//
// A failed trial leaves the best result untouched. If every trial fails the
// result has Failed set and the combined trial errors are returned. Fatal
// errors abort immediately. On cancellation the best result so far is
// returned with the context error.
func Register(ctx context.Context, model, scene *Mesh, cfg ICPConfig) (RegistrationResult, error) {
	if err := cfg.Validate(); err != nil {
		return RegistrationResult{Failed: true, Reason: err.Error()}, err
	}
	if len(model.Vertices) < 3 || len(scene.Vertices) < 3 {
		err := fmt.Errorf("%w: model %d, scene %d", ErrTooFewVertices, len(model.Vertices), len(scene.Vertices))
		return RegistrationResult{Failed: true, Reason: err.Error()}, err
	}
	if cfg.FeatureWeight != 0 && model.FeatureWidth() != scene.FeatureWidth() {
		err := fmt.Errorf("%w: model %d, scene %d", ErrFeatureWidthMismatch, model.FeatureWidth(), scene.FeatureWidth())
		return RegistrationResult{Failed: true, Reason: err.Error()}, err
	}

	index := NewNNIndex(scene, cfg.FeatureWeight)
	run := newICPRun(model, scene, index, cfg)
	rng := rand.New(rand.NewSource(cfg.Seed))
	spread := perturbResolutions * scene.Resolution()

	trials := newTrialSet(cfg.Initial, cfg.Verbose)

	res, err := run.run(ctx, cfg.Initial)
	if IsFatal(err) {
		return finish(trials.best, res.Iterations, 1, err)
	}
	if ctx.Err() != nil {
		best := trials.best
		if res.Error < best.Error {
			best = res
			best.Failed = false
		}
		return finish(best, res.Iterations, 1, ctx.Err())
	}
	trials.add(0, res, err)

	batch := max(cfg.Parallel, 1)
	for next := 1; next <= cfg.NPer; next += batch {
		size := min(batch, cfg.NPer-next+1)
		starts := make([]RigidTransform, size)
		for i := range starts {
			starts[i] = perturb(trials.best.Transform, rng, spread)
		}

		results := make([]RegistrationResult, size)
		errs := make([]error, size)
		if size == 1 {
			results[0], errs[0] = run.run(ctx, starts[0])
		} else {
			g, gctx := errgroup.WithContext(ctx)
			for i := range starts {
				g.Go(func() error {
					results[i], errs[i] = run.run(gctx, starts[i])
					if IsFatal(errs[i]) {
						return errs[i]
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return finish(trials.best, trials.iterations, trials.count+size, err)
			}
		}

		for i := range results {
			if IsFatal(errs[i]) {
				return finish(trials.best, trials.iterations+results[i].Iterations, trials.count+1, errs[i])
			}
			if ctx.Err() != nil {
				return finish(trials.best, trials.iterations, trials.count, ctx.Err())
			}
			trials.add(next+i, results[i], errs[i])
		}
	}
	return trials.result()
}

// trialSet keeps the lowest-error result over the trials of one Register
// call along with the combined errors of the trials that failed.
type trialSet struct {
	best       RegistrationResult
	errs       error
	iterations int
	count      int
	succeeded  int
	verbose    bool
}

func newTrialSet(initial RigidTransform, verbose bool) *trialSet {
	return &trialSet{
		best:    RegistrationResult{Transform: initial, Error: math.Inf(1), Failed: true},
		verbose: verbose,
	}
}

// add records trial i and reports whether it replaced the best result.
func (ts *trialSet) add(i int, res RegistrationResult, err error) bool {
	ts.count++
	ts.iterations += res.Iterations
	if err != nil {
		ts.errs = multierr.Append(ts.errs, fmt.Errorf("trial %d: %w", i, err))
		return false
	}
	ts.succeeded++
	if ts.verbose || i == 0 {
		Logf("register: trial %d error %.6g after %d iterations (%s)", i, res.Error, res.Iterations, res.Reason)
	}
	if res.Error >= ts.best.Error {
		return false
	}
	ts.best = res
	return true
}

// result returns the best result with the totals over all trials.
func (ts *trialSet) result() (RegistrationResult, error) {
	best := ts.best
	best.Iterations = ts.iterations
	best.Trials = ts.count
	if ts.succeeded == 0 {
		best.Failed = true
		best.Reason = "all trials failed"
		return best, ts.errs
	}
	best.Failed = false
	if ts.errs != nil {
		Logf("register: %d of %d trials failed: %v", ts.count-ts.succeeded, ts.count, ts.errs)
	}
	return best, nil
}

func finish(best RegistrationResult, iterations, trials int, err error) (RegistrationResult, error) {
	best.Iterations = iterations
	best.Trials = trials
	if IsFatal(err) {
		best.Failed = true
		best.Reason = err.Error()
	}
	return best, err
}

// perturb composes a random rotation of at most perturbMaxAngle with the
// rotation of t and adds a uniform offset in [-spread, spread]³ to its
// translation.
func perturb(t RigidTransform, rng *rand.Rand, spread float64) RigidTransform {
	q := randomCapQuaternion(rng, perturbMaxAngle)
	offset := r3.Vec{
		X: (2*rng.Float64() - 1) * spread,
		Y: (2*rng.Float64() - 1) * spread,
		Z: (2*rng.Float64() - 1) * spread,
	}
	return RigidTransform{
		R: orthonormalize(QuaternionMatrix(q).Mul(t.R)),
		T: r3.Add(t.T, offset),
	}
}

// randomCapQuaternion samples a unit quaternion uniformly from the rotations
// whose angle is at most maxAngle. The angle density is proportional to
// sin²(θ/2), sampled by rejection; the axis is uniform on the sphere.
func randomCapQuaternion(rng *rand.Rand, maxAngle float64) quat.Number {
	peak := math.Pow(math.Sin(maxAngle/2), 2)
	var theta float64
	for {
		theta = rng.Float64() * maxAngle
		if rng.Float64()*peak <= math.Pow(math.Sin(theta/2), 2) {
			break
		}
	}
	var axis r3.Vec
	for r3.Norm(axis) < 1e-9 {
		axis = r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}
	axis = r3.Scale(math.Sin(theta/2), r3.Unit(axis))
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
}
