package mesh

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// tetraCoords are the corners of a right tetrahedron with 10-unit legs.
var tetraCoords = []r3.Vec{
	{X: 0, Y: 0, Z: 0},
	{X: 10, Y: 0, Z: 0},
	{X: 0, Y: 10, Z: 0},
	{X: 0, Y: 0, Z: 10},
}

// tetraFaces are wound so every face normal points outward.
var tetraFaces = [][3]int{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}}

func mustMesh(t *testing.T, coords []r3.Vec, tris [][3]int) *Mesh {
	t.Helper()
	m, err := NewMesh(coords, tris)
	if err != nil {
		t.Fatalf("NewMesh() error: %v", err)
	}
	return m
}

// tetrahedron returns the closed tetrahedron, optionally moved by t.
func tetrahedron(t *testing.T, tr RigidTransform) *Mesh {
	t.Helper()
	return mustMesh(t, tr.ApplyAll(tetraCoords), tetraFaces)
}

// openTetrahedron drops face {1,2,3}, leaving a three-edge boundary.
func openTetrahedron(t *testing.T) *Mesh {
	t.Helper()
	return mustMesh(t, tetraCoords, tetraFaces[:3])
}

// gridMesh builds an n×n vertex grid with the given spacing, centred on the
// origin, lifted by height. Triangles are wound counter-clockwise from +Z.
func gridMesh(t *testing.T, n int, spacing float64, height func(x, y float64) float64) *Mesh {
	t.Helper()
	coords, tris := gridData(n, spacing, height)
	return mustMesh(t, coords, tris)
}

func gridData(n int, spacing float64, height func(x, y float64) float64) ([]r3.Vec, [][3]int) {
	half := float64(n-1) * spacing / 2
	coords := make([]r3.Vec, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			x := float64(i)*spacing - half
			y := float64(j)*spacing - half
			z := 0.0
			if height != nil {
				z = height(x, y)
			}
			coords = append(coords, r3.Vec{X: x, Y: y, Z: z})
		}
	}
	var tris [][3]int
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			v00 := j*n + i
			v10 := v00 + 1
			v01 := v00 + n
			v11 := v01 + 1
			tris = append(tris, [3]int{v00, v10, v11}, [3]int{v00, v11, v01})
		}
	}
	return coords, tris
}

// unitGrid is the 3×3 grid spanning [0,2]² on z=0. Vertex j*3+i sits at
// (i, j, 0); only vertex 4 is interior.
func unitGrid(t *testing.T) *Mesh {
	t.Helper()
	return mustMesh(t, shift(gridCoords(3, 1), r3.Vec{X: 1, Y: 1}), gridTris(3))
}

func gridCoords(n int, spacing float64) []r3.Vec {
	c, _ := gridData(n, spacing, nil)
	return c
}

func gridTris(n int) [][3]int {
	_, t := gridData(n, 1, nil)
	return t
}

func shift(points []r3.Vec, d r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = r3.Add(p, d)
	}
	return out
}

func vecNear(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func transformNear(a, b RigidTransform, tol float64) bool {
	if !vecNear(a.T, b.T, tol) {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d := a.R[i][j] - b.R[i][j]
			if d > tol || d < -tol {
				return false
			}
		}
	}
	return true
}

func muteLogs(t *testing.T) {
	t.Helper()
	prev := Logf
	SetLogger(nil)
	t.Cleanup(func() { Logf = prev })
}
