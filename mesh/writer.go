package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteMesh writes m to path, choosing VRML or STL from the extension.
func WriteMesh(m *Mesh, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating mesh directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating mesh file: %w", err)
	}

	switch FormatFromPath(path) {
	case FormatSTL:
		err = WriteSTL(f, m)
	default:
		err = WriteVRML(f, m)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteVRML writes m as a single VRML 2.0 IndexedFaceSet with per-vertex
// normals.
func WriteVRML(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "#VRML V2.0 utf8")
	fmt.Fprintln(bw, "Shape {")
	fmt.Fprintln(bw, "  geometry IndexedFaceSet {")
	fmt.Fprintln(bw, "    coord Coordinate {")
	fmt.Fprintln(bw, "      point [")
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "        %g %g %g,\n", v.Coord.X, v.Coord.Y, v.Coord.Z)
	}
	fmt.Fprintln(bw, "      ]")
	fmt.Fprintln(bw, "    }")
	fmt.Fprintln(bw, "    normal Normal {")
	fmt.Fprintln(bw, "      vector [")
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "        %g %g %g,\n", v.Normal.X, v.Normal.Y, v.Normal.Z)
	}
	fmt.Fprintln(bw, "      ]")
	fmt.Fprintln(bw, "    }")
	fmt.Fprintln(bw, "    normalPerVertex TRUE")
	fmt.Fprintln(bw, "    coordIndex [")
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "      %d, %d, %d, -1,\n", f.V[0], f.V[1], f.V[2])
	}
	fmt.Fprintln(bw, "    ]")
	fmt.Fprintln(bw, "  }")
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
