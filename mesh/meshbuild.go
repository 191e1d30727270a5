package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Mesh is an arena of vertices, edges and faces addressed by index.
// It is built once by NewMesh and read-only during registration.
type Mesh struct {
	Vertices []Vertex
	Edges    []Edge
	Faces    []Face

	featureWidth  int
	neighborFaces [][]int
	nonManifold   []int
}

// NewMesh builds connectivity from raw triangles, flags boundaries, caches
// the per-vertex neighbour faces and estimates vertex normals.
func NewMesh(coords []r3.Vec, triangles [][3]int) (*Mesh, error) {
	m := &Mesh{
		Vertices: make([]Vertex, len(coords)),
		Faces:    make([]Face, 0, len(triangles)),
	}
	for i, c := range coords {
		m.Vertices[i].Coord = c
	}

	edgeIndex := make(map[[2]int]int, len(triangles)*3/2)
	for fi, tri := range triangles {
		for _, v := range tri {
			if v < 0 || v >= len(coords) {
				return nil, fmt.Errorf("face %d: vertex index %d out of range [0,%d)", fi, v, len(coords))
			}
		}
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			return nil, fmt.Errorf("face %d: repeated vertex index in %v", fi, tri)
		}

		f := Face{V: tri, Adj: [3]int{-1, -1, -1}}
		id := len(m.Faces)
		for k := 0; k < 3; k++ {
			a, b := tri[k], tri[(k+1)%3]
			key := [2]int{min(a, b), max(a, b)}
			ei, ok := edgeIndex[key]
			if !ok {
				ei = len(m.Edges)
				edgeIndex[key] = ei
				m.Edges = append(m.Edges, Edge{V: key, Faces: [2]int{-1, -1}})
			}
			e := &m.Edges[ei]
			switch {
			case e.Faces[0] == -1:
				e.Faces[0] = id
			case e.Faces[1] == -1:
				e.Faces[1] = id
			default:
				m.nonManifold = append(m.nonManifold, ei)
			}
			f.E[k] = ei
		}
		m.Faces = append(m.Faces, f)
	}

	for fi := range m.Faces {
		f := &m.Faces[fi]
		for k, ei := range f.E {
			e := m.Edges[ei]
			switch {
			case e.Faces[0] == fi:
				f.Adj[k] = e.Faces[1]
			case e.Faces[1] == fi:
				f.Adj[k] = e.Faces[0]
			}
		}
		for _, v := range f.V {
			m.Vertices[v].Faces = append(m.Vertices[v].Faces, fi)
		}
	}

	for ei := range m.Edges {
		e := &m.Edges[ei]
		e.Boundary = e.Faces[1] == -1
		for k, v := range e.V {
			vx := &m.Vertices[v]
			vx.Edges = append(vx.Edges, ei)
			vx.Neighbors = append(vx.Neighbors, e.V[1-k])
			if e.Boundary {
				vx.Boundary = true
			}
		}
	}
	for i := range m.Vertices {
		sort.Ints(m.Vertices[i].Neighbors)
	}

	m.buildNeighborFaces()
	if err := EstimateNormals(m); err != nil {
		return nil, err
	}
	return m, nil
}

// buildNeighborFaces caches, for every vertex, the faces touching it or any
// of its one-ring neighbours.
func (m *Mesh) buildNeighborFaces() {
	m.neighborFaces = make([][]int, len(m.Vertices))
	seen := make(map[int]struct{})
	for i, v := range m.Vertices {
		clear(seen)
		var faces []int
		add := func(fs []int) {
			for _, f := range fs {
				if _, ok := seen[f]; !ok {
					seen[f] = struct{}{}
					faces = append(faces, f)
				}
			}
		}
		add(v.Faces)
		for _, n := range v.Neighbors {
			add(m.Vertices[n].Faces)
		}
		sort.Ints(faces)
		m.neighborFaces[i] = faces
	}
}

// NeighborFaces returns the cached candidate face set per vertex.
func (m *Mesh) NeighborFaces() [][]int { return m.neighborFaces }

// VertexCoords returns a copy of all vertex coordinates.
func (m *Mesh) VertexCoords() []r3.Vec {
	out := make([]r3.Vec, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = v.Coord
	}
	return out
}

// VertexNormals returns a copy of all vertex normals.
func (m *Mesh) VertexNormals() []r3.Vec {
	out := make([]r3.Vec, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = v.Normal
	}
	return out
}

// VertexFeatures returns the per-vertex feature vectors (shared, not copied).
func (m *Mesh) VertexFeatures() [][]float64 {
	out := make([][]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = v.Feature
	}
	return out
}

// FeatureWidth is the fixed width of every vertex feature vector.
func (m *Mesh) FeatureWidth() int { return m.featureWidth }

// SetFeatures assigns per-vertex features. Every row must have the same width.
func (m *Mesh) SetFeatures(features [][]float64) error {
	if len(features) != len(m.Vertices) {
		return fmt.Errorf("%w: %d feature rows for %d vertices", ErrFeatureWidthMismatch, len(features), len(m.Vertices))
	}
	width := -1
	for i, f := range features {
		if width == -1 {
			width = len(f)
		} else if len(f) != width {
			return fmt.Errorf("%w: vertex %d has %d features, expected %d", ErrFeatureWidthMismatch, i, len(f), width)
		}
	}
	for i := range m.Vertices {
		m.Vertices[i].Feature = features[i]
	}
	m.featureWidth = max(width, 0)
	return nil
}

// VertexBoundary reports whether vertex i lies on the mesh boundary.
func (m *Mesh) VertexBoundary(i int) bool { return m.Vertices[i].Boundary }

// EdgeBoundary reports whether edge i has fewer than two faces.
func (m *Mesh) EdgeBoundary(i int) bool { return m.Edges[i].Boundary }

// FaceNormal returns the unnormalized normal (v2-v1)×(v3-v2) of face f.
func (m *Mesh) FaceNormal(f int) r3.Vec {
	v := m.Faces[f].V
	a, b, c := m.Vertices[v[0]].Coord, m.Vertices[v[1]].Coord, m.Vertices[v[2]].Coord
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, b))
}

// BoundingBox returns the axis-aligned bounds of the vertex coordinates.
func (m *Mesh) BoundingBox() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	inf := math.Inf(1)
	b := r3.Box{Min: r3.Vec{X: inf, Y: inf, Z: inf}, Max: r3.Vec{X: -inf, Y: -inf, Z: -inf}}
	for _, v := range m.Vertices {
		c := v.Coord
		b.Min = r3.Vec{X: math.Min(b.Min.X, c.X), Y: math.Min(b.Min.Y, c.Y), Z: math.Min(b.Min.Z, c.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, c.X), Y: math.Max(b.Max.Y, c.Y), Z: math.Max(b.Max.Z, c.Z)}
	}
	return b
}

// Corners returns the eight corners of the bounding box.
func (m *Mesh) Corners() [8]r3.Vec {
	return boxCorners(m.BoundingBox())
}

func boxCorners(b r3.Box) [8]r3.Vec {
	var c [8]r3.Vec
	for i := 0; i < 8; i++ {
		c[i] = b.Min
		if i&1 != 0 {
			c[i].X = b.Max.X
		}
		if i&2 != 0 {
			c[i].Y = b.Max.Y
		}
		if i&4 != 0 {
			c[i].Z = b.Max.Z
		}
	}
	return c
}

// Resolution returns the median edge length, 0 for a mesh without edges.
// For an even edge count the lower middle value is used.
func (m *Mesh) Resolution() float64 {
	if len(m.Edges) == 0 {
		return 0
	}
	lengths := make([]float64, len(m.Edges))
	for i, e := range m.Edges {
		lengths[i] = r3.Norm(r3.Sub(m.Vertices[e.V[0]].Coord, m.Vertices[e.V[1]].Coord))
	}
	sort.Float64s(lengths)
	return stat.Quantile(0.5, stat.Empirical, lengths, nil)
}

// ApplyTransform bakes t into the vertex coordinates and normals.
func (m *Mesh) ApplyTransform(t RigidTransform) {
	for i := range m.Vertices {
		v := &m.Vertices[i]
		v.Coord = t.Apply(v.Coord)
		v.Normal = t.ApplyVector(v.Normal)
	}
}

// Clone returns a deep copy of the coordinates, normals and features; the
// topology slices are shared since they are never mutated after NewMesh.
func (m *Mesh) Clone() *Mesh {
	c := *m
	c.Vertices = make([]Vertex, len(m.Vertices))
	copy(c.Vertices, m.Vertices)
	for i := range c.Vertices {
		if f := m.Vertices[i].Feature; f != nil {
			c.Vertices[i].Feature = append([]float64(nil), f...)
		}
	}
	return &c
}

// Validate checks the boundary invariants and returns every violation found.
// Violations are diagnostics; the mesh is still usable.
func (m *Mesh) Validate() []string {
	var problems []string
	for _, ei := range m.nonManifold {
		e := m.Edges[ei]
		problems = append(problems, fmt.Sprintf("edge %d (%d-%d) has more than two faces", ei, e.V[0], e.V[1]))
	}
	for ei, e := range m.Edges {
		if e.Boundary != (e.Faces[1] == -1) {
			problems = append(problems, fmt.Sprintf("edge %d boundary flag disagrees with its face count", ei))
		}
	}
	for vi, v := range m.Vertices {
		boundaryEdges := 0
		for _, ei := range v.Edges {
			if m.Edges[ei].Boundary {
				boundaryEdges++
			}
		}
		if v.Boundary != (boundaryEdges > 0) {
			problems = append(problems, fmt.Sprintf("vertex %d boundary flag disagrees with its edges", vi))
		}
		if v.Boundary && boundaryEdges < 2 {
			problems = append(problems, fmt.Sprintf("boundary vertex %d touches only %d boundary edge", vi, boundaryEdges))
		}
		if len(v.Faces) == 0 {
			problems = append(problems, fmt.Sprintf("vertex %d is not used by any face", vi))
		}
	}
	return problems
}
