package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RigidFit is the weighted least-squares rigid transform taking model points
// onto scene points. Error is the weighted squared residual at the optimum.
type RigidFit struct {
	Transform RigidTransform
	Error     float64
}

// WeightedRigidFit solves for the rotation and translation minimizing
// Σ wᵢ·|R·mᵢ + t - sᵢ|² with the quaternion absolute-orientation method.
func WeightedRigidFit(model, scene []r3.Vec, weights []float64) (RigidFit, error) {
	if len(model) != len(scene) || len(model) != len(weights) {
		return RigidFit{}, fmt.Errorf("rigid fit: %d model, %d scene, %d weights", len(model), len(scene), len(weights))
	}
	if len(model) < 3 {
		return RigidFit{}, fmt.Errorf("%w: got %d", ErrTooFewPairs, len(model))
	}

	cm := weightedCentroid(model, weights)
	cs := weightedCentroid(scene, weights)

	a := mat.NewSymDense(4, nil)
	var acc [4][4]float64
	for i := range model {
		w := weights[i]
		if w == 0 {
			continue
		}
		vm := r3.Sub(model[i], cm)
		vs := r3.Sub(scene[i], cs)
		d := r3.Sub(vm, vs)
		s := r3.Add(vm, vs)
		// |M·q|² = |R(q)·vm - vs|² for unit q = (w, x, y, z)
		m := [4][4]float64{
			{0, -d.X, -d.Y, -d.Z},
			{d.X, 0, s.Z, -s.Y},
			{d.Y, -s.Z, 0, s.X},
			{d.Z, s.Y, -s.X, 0},
		}
		for r := 0; r < 4; r++ {
			for c := r; c < 4; c++ {
				sum := 0.0
				for k := 0; k < 4; k++ {
					sum += m[k][r] * m[k][c]
				}
				acc[r][c] += w * sum
			}
		}
	}
	for r := 0; r < 4; r++ {
		for c := r; c < 4; c++ {
			a.SetSym(r, c, acc[r][c])
		}
	}

	eig, err := JacobiEigen(a)
	if err != nil {
		return RigidFit{}, fmt.Errorf("rigid fit: %w", err)
	}
	eig.Sort()

	// qᵀAq is the residual, so the optimum sits at the smallest end.
	last := len(eig.Values) - 1
	col := eig.Column(last)
	q := quat.Number{Real: col[0], Imag: col[1], Jmag: col[2], Kmag: col[3]}
	rot := QuaternionMatrix(q)

	residual := eig.Values[last]
	if residual < 0 {
		residual = 0
	}
	return RigidFit{
		Transform: RigidTransform{R: rot, T: r3.Sub(cs, rot.MulVec(cm))},
		Error:     residual,
	}, nil
}

// weightedCentroid returns Σwᵢpᵢ/Σwᵢ, or the origin when the weights sum to 0.
func weightedCentroid(points []r3.Vec, weights []float64) r3.Vec {
	var c r3.Vec
	total := 0.0
	for i, p := range points {
		c = r3.Add(c, r3.Scale(weights[i], p))
		total += weights[i]
	}
	if total == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/total, c)
}
