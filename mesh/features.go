package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ComputeCurvatureFeatures returns a width-1 feature per vertex: the surface
// variation λmin/(λ0+λ1+λ2) of the two-ring covariance. Flat patches score 0,
// isotropic neighbourhoods approach 1/3. Vertices with fewer than three
// neighbours score 0.
func ComputeCurvatureFeatures(m *Mesh) ([][]float64, error) {
	features := make([][]float64, len(m.Vertices))
	for v := range m.Vertices {
		ring := m.twoRing(v)
		if len(ring)-1 < 3 {
			features[v] = []float64{0}
			continue
		}

		var c r3.Vec
		for _, i := range ring {
			c = r3.Add(c, m.Vertices[i].Coord)
		}
		n := float64(len(ring))
		c = r3.Scale(1/n, c)

		var cov [6]float64 // xx xy xz yy yz zz
		for _, i := range ring {
			d := r3.Sub(m.Vertices[i].Coord, c)
			cov[0] += d.X * d.X
			cov[1] += d.X * d.Y
			cov[2] += d.X * d.Z
			cov[3] += d.Y * d.Y
			cov[4] += d.Y * d.Z
			cov[5] += d.Z * d.Z
		}
		sym := mat.NewSymDense(3, []float64{
			cov[0] / n, cov[1] / n, cov[2] / n,
			cov[1] / n, cov[3] / n, cov[4] / n,
			cov[2] / n, cov[4] / n, cov[5] / n,
		})

		eig, err := JacobiEigen(sym)
		if err != nil {
			return nil, fmt.Errorf("curvature of vertex %d: %w", v, err)
		}
		eig.Sort()
		sum := math.Abs(eig.Values[0]) + math.Abs(eig.Values[1]) + math.Abs(eig.Values[2])
		variation := 0.0
		if sum > 1e-15 {
			variation = math.Abs(eig.Values[2]) / sum
		}
		features[v] = []float64{variation}
	}
	return features, nil
}

// AttachCurvatureFeatures computes curvature features and stores them on m.
func AttachCurvatureFeatures(m *Mesh) error {
	features, err := ComputeCurvatureFeatures(m)
	if err != nil {
		return err
	}
	return m.SetFeatures(features)
}
