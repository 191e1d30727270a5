package mesh

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hschendel/stl"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReadSTL reads an ASCII or binary STL solid. Triangle corners with identical
// coordinates are merged into one vertex so the mesh gets real adjacency.
// Readers that cannot seek are buffered in memory first.
func ReadSTL(r io.Reader) (*Mesh, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading STL: %w", err)
		}
		rs = bytes.NewReader(data)
	}
	solid, err := stl.ReadAll(rs)
	if err != nil {
		return nil, fmt.Errorf("reading STL: %w", err)
	}

	index := make(map[stl.Vec3]int)
	var coords []r3.Vec
	tris := make([][3]int, 0, len(solid.Triangles))
	for _, t := range solid.Triangles {
		var tri [3]int
		for k, v := range t.Vertices {
			id, ok := index[v]
			if !ok {
				id = len(coords)
				index[v] = id
				coords = append(coords, r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
			}
			tri[k] = id
		}
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			continue
		}
		tris = append(tris, tri)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("STL solid %q has no triangles", solid.Name)
	}
	return NewMesh(coords, tris)
}

// WriteSTL writes m as a binary STL solid with per-face normals.
func WriteSTL(w io.Writer, m *Mesh) error {
	solid := &stl.Solid{Name: "meshreg", Triangles: make([]stl.Triangle, len(m.Faces))}
	for i, f := range m.Faces {
		n := m.FaceNormal(i)
		if r3.Norm(n) > 0 {
			n = r3.Unit(n)
		}
		t := stl.Triangle{Normal: toSTL(n)}
		for k, v := range f.V {
			t.Vertices[k] = toSTL(m.Vertices[v].Coord)
		}
		solid.Triangles[i] = t
	}
	return solid.WriteAll(w)
}

func toSTL(v r3.Vec) stl.Vec3 {
	return stl.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}
