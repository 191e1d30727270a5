package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// degenerateNormal is the smallest usable |(v2-v1)×(v3-v2)|.
	degenerateNormal = 1e-9
	// vertexSnap is the squared distance under which a query coincides with
	// a triangle vertex.
	vertexSnap = 1e-9 * 2.220446049250313e-16
)

// TrianglePoint is the closest point on a triangle to a query point.
type TrianglePoint struct {
	Point    r3.Vec
	Region   Region
	Distance float64
}

// FacePoint is a TrianglePoint tagged with the face it lies on.
type FacePoint struct {
	TrianglePoint
	Face int
}

// IsDegenerateTriangle reports whether the triangle normal is too short to
// define a plane.
func IsDegenerateTriangle(v1, v2, v3 r3.Vec) bool {
	return r3.Norm(r3.Cross(r3.Sub(v2, v1), r3.Sub(v3, v2))) < degenerateNormal
}

// ClosestPointOnTriangle returns the point of triangle (v1,v2,v3) closest to
// p. ok is false when the triangle is degenerate or the closest point is
// farther than distThreshold.
func ClosestPointOnTriangle(p, v1, v2, v3 r3.Vec, distThreshold float64) (TrianglePoint, bool) {
	n := r3.Cross(r3.Sub(v2, v1), r3.Sub(v3, v2))
	nn := r3.Norm(n)
	if nn < degenerateNormal {
		return TrianglePoint{}, false
	}

	verts := [3]r3.Vec{v1, v2, v3}
	for i, v := range verts {
		if r3.Norm2(r3.Sub(p, v)) < vertexSnap {
			return TrianglePoint{Point: v, Region: RegionVertex1 + Region(i)}, true
		}
	}

	unit := r3.Scale(1/nn, n)
	sd := r3.Dot(r3.Sub(p, v1), unit)
	q := r3.Sub(p, r3.Scale(sd, unit))

	// signed areas of q against the three edge half-planes
	var neg [3]int
	count := 0
	for k := 0; k < 3; k++ {
		a, b := verts[k], verts[(k+1)%3]
		if r3.Dot(r3.Cross(r3.Sub(b, a), r3.Sub(q, a)), n) < 0 {
			neg[count] = k
			count++
		}
	}

	var best TrianglePoint
	switch count {
	case 0:
		best = TrianglePoint{Point: q, Region: RegionFace, Distance: math.Abs(sd)}
	case 1:
		best = closestOnEdge(p, q, verts, neg[0])
	case 2:
		// q lies beyond the vertex shared by both edges; the answer is that
		// vertex or a point on one of its two edges.
		best = closestOnEdge(p, q, verts, neg[0])
		if other := closestOnEdge(p, q, verts, neg[1]); other.Distance < best.Distance {
			best = other
		}
	default:
		return TrianglePoint{}, false
	}

	if best.Distance > distThreshold {
		return TrianglePoint{}, false
	}
	return best, true
}

// closestOnEdge clamps the in-plane projection q onto edge k (verts[k] to
// verts[k+1]) and measures the distance from the original point p.
func closestOnEdge(p, q r3.Vec, verts [3]r3.Vec, k int) TrianglePoint {
	a, b := verts[k], verts[(k+1)%3]
	ab := r3.Sub(b, a)
	t := r3.Dot(r3.Sub(q, a), ab) / r3.Norm2(ab)

	var tp TrianglePoint
	switch {
	case t <= 0:
		tp = TrianglePoint{Point: a, Region: RegionVertex1 + Region(k)}
	case t >= 1:
		tp = TrianglePoint{Point: b, Region: RegionVertex1 + Region((k+1)%3)}
	default:
		tp = TrianglePoint{Point: r3.Add(a, r3.Scale(t, ab)), Region: RegionEdge12 + Region(k)}
	}
	tp.Distance = r3.Norm(r3.Sub(p, tp.Point))
	return tp
}

// ClosestFacePoint scans the candidate faces of m and returns the closest
// surface point within threshold. Degenerate faces are skipped; if every
// candidate is degenerate the error is ErrNoCandidateFaces. found is false
// when no face has a point within threshold.
func ClosestFacePoint(q r3.Vec, faces []int, m *Mesh, threshold float64) (fp FacePoint, found bool, err error) {
	usable := 0
	best := math.Inf(1)
	for _, fi := range faces {
		v := m.Faces[fi].V
		a, b, c := m.Vertices[v[0]].Coord, m.Vertices[v[1]].Coord, m.Vertices[v[2]].Coord
		if IsDegenerateTriangle(a, b, c) {
			continue
		}
		usable++
		tp, ok := ClosestPointOnTriangle(q, a, b, c, threshold)
		if ok && tp.Distance < best {
			best = tp.Distance
			fp = FacePoint{TrianglePoint: tp, Face: fi}
			found = true
		}
	}
	if usable == 0 {
		return FacePoint{}, false, ErrNoCandidateFaces
	}
	return fp, found, nil
}

// regionVertex returns the mesh vertex index for a vertex region of face f.
func (m *Mesh) regionVertex(f int, r Region) int {
	return m.Faces[f].V[r-RegionVertex1]
}

// regionEdge returns the mesh edge index for an edge region of face f.
func (m *Mesh) regionEdge(f int, r Region) int {
	return m.Faces[f].E[r-RegionEdge12]
}

// touchesBoundary reports whether a surface point on face f in region r
// rests on boundary geometry. Vertex regions use the vertex flag; edge
// regions are rejected unless both endpoint vertices are interior.
func (m *Mesh) touchesBoundary(f int, r Region) bool {
	switch {
	case r.IsVertex():
		return m.Vertices[m.regionVertex(f, r)].Boundary
	case r.IsEdge():
		e := m.Edges[m.regionEdge(f, r)]
		return e.Boundary || m.Vertices[e.V[0]].Boundary || m.Vertices[e.V[1]].Boundary
	}
	return false
}

// surfaceNormal returns the unit normal at a surface point: the face normal
// inside a face, the vertex normal at a vertex, and the mean of the endpoint
// normals on an edge.
func (m *Mesh) surfaceNormal(f int, r Region) r3.Vec {
	var n r3.Vec
	switch {
	case r.IsVertex():
		n = m.Vertices[m.regionVertex(f, r)].Normal
	case r.IsEdge():
		e := m.Edges[m.regionEdge(f, r)]
		n = r3.Add(m.Vertices[e.V[0]].Normal, m.Vertices[e.V[1]].Normal)
	default:
		n = m.FaceNormal(f)
	}
	if r3.Norm(n) == 0 {
		return n
	}
	return r3.Unit(n)
}
