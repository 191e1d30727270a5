package mesh

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh formats understood by LoadMesh and WriteMesh.
const (
	FormatVRML = "vrml"
	FormatSTL  = "stl"
)

// FormatFromPath guesses the mesh format from a file name or URL path.
// Unknown extensions are treated as VRML.
func FormatFromPath(p string) string {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".stl":
		return FormatSTL
	default:
		return FormatVRML
	}
}

// LoadMesh reads a mesh from a .wrl/.vrml or .stl file, or fetches it when
// source is an http(s) URL.
func LoadMesh(source string) (*Mesh, error) {
	return LoadMeshWithContext(context.Background(), source)
}

// LoadMeshWithContext is like LoadMesh but the context bounds remote fetches.
func LoadMeshWithContext(ctx context.Context, source string) (*Mesh, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return FetchMeshWithContext(ctx, source)
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("opening mesh: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := DecodeMesh(f, FormatFromPath(source))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", source, err)
	}
	return m, nil
}

// DecodeMesh parses a mesh in the given format.
func DecodeMesh(r io.Reader, format string) (*Mesh, error) {
	switch format {
	case FormatSTL:
		return ReadSTL(r)
	case FormatVRML:
		return ParseVRML(r)
	default:
		return nil, fmt.Errorf("unknown mesh format %q", format)
	}
}

// ParseVRML reads the Coordinate/Coordinate3 point lists and IndexedFaceSet
// coordIndex lists of a VRML 1.0 or 2.0 file. Several shapes are merged into
// one mesh; polygons with more than three corners are fan-triangulated.
func ParseVRML(r io.Reader) (*Mesh, error) {
	tokens, err := vrmlTokens(r)
	if err != nil {
		return nil, err
	}

	var coords []r3.Vec
	var tris [][3]int
	var nodes []string
	offset := 0
	pending := ""

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "{":
			nodes = append(nodes, pending)
			pending = ""
			continue
		case "}":
			if len(nodes) > 0 {
				nodes = nodes[:len(nodes)-1]
			}
			continue
		}

		node := ""
		if len(nodes) > 0 {
			node = nodes[len(nodes)-1]
		}

		switch {
		case tok == "point" && (node == "Coordinate" || node == "Coordinate3"):
			vals, next, err := vrmlList(tokens, i+1)
			if err != nil {
				return nil, fmt.Errorf("point list: %w", err)
			}
			if len(vals)%3 != 0 {
				return nil, fmt.Errorf("point list has %d values, not a multiple of 3", len(vals))
			}
			offset = len(coords)
			for k := 0; k < len(vals); k += 3 {
				coords = append(coords, r3.Vec{X: vals[k], Y: vals[k+1], Z: vals[k+2]})
			}
			i = next
		case tok == "coordIndex" && node == "IndexedFaceSet":
			vals, next, err := vrmlList(tokens, i+1)
			if err != nil {
				return nil, fmt.Errorf("coordIndex list: %w", err)
			}
			var poly []int
			flush := func() {
				for k := 1; k+1 < len(poly); k++ {
					tris = append(tris, [3]int{offset + poly[0], offset + poly[k], offset + poly[k+1]})
				}
				poly = poly[:0]
			}
			for _, v := range vals {
				if v < 0 {
					flush()
					continue
				}
				poly = append(poly, int(v))
			}
			flush()
			i = next
		default:
			pending = tok
		}
	}

	if len(coords) == 0 {
		return nil, fmt.Errorf("no coordinates found")
	}
	return NewMesh(coords, tris)
}

// vrmlTokens splits VRML text into tokens. Comments are dropped, commas are
// whitespace and brackets and braces are tokens of their own.
func vrmlTokens(r io.Reader) ([]string, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if i := bytes.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		start := -1
		for i, c := range line {
			switch c {
			case ' ', '\t', '\r', ',', '[', ']', '{', '}':
				if start >= 0 {
					tokens = append(tokens, string(line[start:i]))
					start = -1
				}
				if c == '[' || c == ']' || c == '{' || c == '}' {
					tokens = append(tokens, string(c))
				}
			default:
				if start < 0 {
					start = i
				}
			}
		}
		if start >= 0 {
			tokens = append(tokens, string(line[start:]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading VRML: %w", err)
	}
	return tokens, nil
}

// vrmlList parses a bracketed number list starting at tokens[i] and returns
// the values and the index of the closing bracket.
func vrmlList(tokens []string, i int) ([]float64, int, error) {
	if i >= len(tokens) || tokens[i] != "[" {
		return nil, i, fmt.Errorf("expected '['")
	}
	var vals []float64
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j] == "]" {
			return vals, j, nil
		}
		v, err := strconv.ParseFloat(tokens[j], 64)
		if err != nil {
			return nil, j, fmt.Errorf("bad number %q", tokens[j])
		}
		vals = append(vals, v)
	}
	return nil, len(tokens), fmt.Errorf("unterminated list")
}
