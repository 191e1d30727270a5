package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// NNIndex answers nearest-vertex queries over (coordinate, weighted feature)
// points of a mesh.
type NNIndex struct {
	tree          *kdtree.Tree
	mesh          *Mesh
	featureWeight float64
	width         int
}

// kdPoint is a vertex embedded in 3+width dimensions.
type kdPoint struct {
	coords []float64
	index  int
}

var _ kdtree.Comparable = kdPoint{}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(kdPoint).coords[d]
}

// Dims returns the embedding dimension.
func (p kdPoint) Dims() int { return len(p.coords) }

// Distance returns the squared Euclidean distance to c.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	sum := 0.0
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

type kdPoints []kdPoint

var _ kdtree.Interface = kdPoints(nil)

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// Pivot partitions the list around the median along d.
func (p kdPoints) Pivot(d kdtree.Dim) int {
	plane := kdPlane{dim: d, points: p}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

type kdPlane struct {
	dim    kdtree.Dim
	points kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.points[i].coords[p.dim] < p.points[j].coords[p.dim]
}
func (p kdPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p kdPlane) Len() int      { return len(p.points) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// NewNNIndex indexes every vertex of m. Features are scaled by
// featureWeight before joining the coordinates; a zero weight searches on
// coordinates alone.
func NewNNIndex(m *Mesh, featureWeight float64) *NNIndex {
	width := 0
	if featureWeight != 0 {
		width = m.FeatureWidth()
	}
	if len(m.Vertices) == 0 {
		return &NNIndex{mesh: m}
	}
	pts := make(kdPoints, len(m.Vertices))
	for i, v := range m.Vertices {
		pts[i] = kdPoint{coords: embed(v.Coord, v.Feature, width, featureWeight), index: i}
	}
	return &NNIndex{
		tree:          kdtree.New(pts, false),
		mesh:          m,
		featureWeight: featureWeight,
		width:         width,
	}
}

func embed(c r3.Vec, feature []float64, width int, weight float64) []float64 {
	out := make([]float64, 3+width)
	out[0], out[1], out[2] = c.X, c.Y, c.Z
	for i := 0; i < width && i < len(feature); i++ {
		out[3+i] = weight * feature[i]
	}
	return out
}

// Nearest returns the index of the vertex closest to (q, feature), that
// vertex's stored feature and the spatial distance from q to it. idx is -1
// for an empty index.
func (ix *NNIndex) Nearest(q r3.Vec, feature []float64) (idx int, fields []float64, dist float64) {
	if ix.tree == nil || ix.tree.Root == nil {
		return -1, nil, math.Inf(1)
	}
	got, _ := ix.tree.Nearest(kdPoint{coords: embed(q, feature, ix.width, ix.featureWeight), index: -1})
	if got == nil {
		return -1, nil, math.Inf(1)
	}
	v := ix.mesh.Vertices[got.(kdPoint).index]
	return got.(kdPoint).index, v.Feature, r3.Norm(r3.Sub(q, v.Coord))
}
