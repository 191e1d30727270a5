package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// NormalEstimate is a fitted vertex normal with the RMS distance of the
// neighbourhood to the fitted plane.
type NormalEstimate struct {
	Normal   r3.Vec
	FitError float64
}

// twoRing returns v, its neighbours and their neighbours, sorted.
func (m *Mesh) twoRing(v int) []int {
	seen := map[int]struct{}{v: {}}
	ring := []int{v}
	for _, n := range m.Vertices[v].Neighbors {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			ring = append(ring, n)
		}
		for _, nn := range m.Vertices[n].Neighbors {
			if _, ok := seen[nn]; !ok {
				seen[nn] = struct{}{}
				ring = append(ring, nn)
			}
		}
	}
	sort.Ints(ring)
	return ring
}

// EstimateNormal fits a plane to the two-ring of v. The normal is the
// eigenvector of the smallest eigenvalue of the scatter matrix, flipped when
// most adjacent faces point the other way. With fewer than 3 neighbours the
// area-weighted face normal is used and FitError is +Inf.
func EstimateNormal(m *Mesh, v int) (NormalEstimate, error) {
	ring := m.twoRing(v)
	if len(ring)-1 < 3 {
		return NormalEstimate{Normal: m.faceNormalSum(v), FitError: math.Inf(1)}, nil
	}

	var n, sx, sy, sz, sxx, syy, szz, sxy, sxz, syz float64
	for _, i := range ring {
		p := m.Vertices[i].Coord
		n++
		sx += p.X
		sy += p.Y
		sz += p.Z
		sxx += p.X * p.X
		syy += p.Y * p.Y
		szz += p.Z * p.Z
		sxy += p.X * p.Y
		sxz += p.X * p.Z
		syz += p.Y * p.Z
	}
	cx, cy, cz := sx/n, sy/n, sz/n
	scatter := mat.NewSymDense(3, []float64{
		sxx - n*cx*cx, sxy - n*cx*cy, sxz - n*cx*cz,
		sxy - n*cx*cy, syy - n*cy*cy, syz - n*cy*cz,
		sxz - n*cx*cz, syz - n*cy*cz, szz - n*cz*cz,
	})

	eig, err := JacobiEigen(scatter)
	if err != nil {
		return NormalEstimate{}, fmt.Errorf("normal of vertex %d: %w", v, err)
	}
	eig.Sort()
	col := eig.Column(2)
	normal := r3.Vec{X: col[0], Y: col[1], Z: col[2]}
	if r3.Norm(normal) > 0 {
		normal = r3.Unit(normal)
	}

	agree, disagree := 0, 0
	for _, f := range m.Vertices[v].Faces {
		if r3.Dot(m.FaceNormal(f), normal) >= 0 {
			agree++
		} else {
			disagree++
		}
	}
	if disagree > agree {
		normal = r3.Scale(-1, normal)
	}

	centroid := r3.Vec{X: cx, Y: cy, Z: cz}
	sum := 0.0
	for _, i := range ring {
		d := r3.Dot(r3.Sub(m.Vertices[i].Coord, centroid), normal)
		sum += d * d
	}
	return NormalEstimate{Normal: normal, FitError: math.Sqrt(sum / n)}, nil
}

// faceNormalSum is the normalized sum of the unnormalized adjacent face
// normals, which weights each face by its area.
func (m *Mesh) faceNormalSum(v int) r3.Vec {
	var sum r3.Vec
	for _, f := range m.Vertices[v].Faces {
		sum = r3.Add(sum, m.FaceNormal(f))
	}
	if r3.Norm(sum) == 0 {
		return sum
	}
	return r3.Unit(sum)
}

// EstimateNormals recomputes every vertex normal of m.
func EstimateNormals(m *Mesh) error {
	for i := range m.Vertices {
		est, err := EstimateNormal(m, i)
		if err != nil {
			return err
		}
		m.Vertices[i].Normal = est.Normal
	}
	return nil
}
