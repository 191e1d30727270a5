package mesh

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"gonum.org/v1/gonum/spatial/r3"
)

// BoundaryLoops chains boundary edges into vertex loops. Closed loops repeat
// their first vertex at the end. On non-manifold boundaries a walk stops
// where it cannot continue, giving an open chain.
func BoundaryLoops(m *Mesh) [][]int {
	next := make(map[int][]int) // vertex -> boundary edges
	for i, e := range m.Edges {
		if !e.Boundary {
			continue
		}
		next[e.V[0]] = append(next[e.V[0]], i)
		next[e.V[1]] = append(next[e.V[1]], i)
	}

	starts := make([]int, 0, len(next))
	for v := range next {
		starts = append(starts, v)
	}
	sort.Ints(starts)

	used := make(map[int]bool)
	var loops [][]int
	for _, start := range starts {
		for _, first := range next[start] {
			if used[first] {
				continue
			}
			loop := []int{start}
			v, e := start, first
			for {
				used[e] = true
				ed := m.Edges[e].V
				if ed[0] == v {
					v = ed[1]
				} else {
					v = ed[0]
				}
				loop = append(loop, v)
				if v == start {
					break
				}
				e = -1
				for _, cand := range next[v] {
					if !used[cand] {
						e = cand
						break
					}
				}
				if e < 0 {
					break
				}
			}
			loops = append(loops, loop)
		}
	}
	return loops
}

func toOrb(p r3.Vec) orb.Point { return orb.Point{p.X, p.Y} }

// Footprint is the convex hull of the XY projection of m under t, as a
// closed counter-clockwise ring.
func Footprint(m *Mesh, t RigidTransform) orb.Polygon {
	pts := make([]orb.Point, len(m.Vertices))
	for i, v := range m.Vertices {
		pts[i] = toOrb(t.Apply(v.Coord))
	}
	hull := convexHull(pts)
	if len(hull) < 3 {
		return nil
	}
	hull = append(hull, hull[0])
	return orb.Polygon{orb.Ring(hull)}
}

// convexHull is Andrew's monotone chain; the result is counter-clockwise
// and not closed.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		return points
	}
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// BoundaryLines projects the boundary loops of m under t onto XY,
// simplified with Douglas-Peucker at tolerance (0 keeps every vertex).
func BoundaryLines(m *Mesh, t RigidTransform, tolerance float64) orb.MultiLineString {
	var out orb.MultiLineString
	for _, loop := range BoundaryLoops(m) {
		ls := make(orb.LineString, len(loop))
		for i, v := range loop {
			ls[i] = toOrb(t.Apply(m.Vertices[v].Coord))
		}
		if tolerance > 0 {
			ls = simplify.DouglasPeucker(tolerance).Simplify(ls).(orb.LineString)
		}
		out = append(out, ls)
	}
	return out
}

// OverlapRatio is the share of model vertices under t whose XY projection
// falls inside the scene footprint.
func OverlapRatio(model, scene *Mesh, t RigidTransform) float64 {
	fp := Footprint(scene, IdentityTransform())
	if fp == nil || len(model.Vertices) == 0 {
		return 0
	}
	inside := 0
	for _, v := range model.Vertices {
		if planar.PolygonContains(fp, toOrb(t.Apply(v.Coord))) {
			inside++
		}
	}
	return float64(inside) / float64(len(model.Vertices))
}

// MeshFeatures returns the footprint and boundary features of one mesh.
func MeshFeatures(m *Mesh, t RigidTransform, role string, tolerance float64) []*geojson.Feature {
	var out []*geojson.Feature

	if fp := Footprint(m, t); fp != nil {
		f := geojson.NewFeature(fp)
		f.ID = role + "-footprint"
		f.Properties["role"] = role
		f.Properties["kind"] = "footprint"
		f.Properties["area"] = math.Abs(planar.Area(fp))
		f.Properties["vertices"] = len(m.Vertices)
		f.Properties["faces"] = len(m.Faces)
		out = append(out, f)
	}

	if lines := BoundaryLines(m, t, tolerance); len(lines) > 0 {
		f := geojson.NewFeature(lines)
		f.ID = role + "-boundary"
		f.Properties["role"] = role
		f.Properties["kind"] = "boundary"
		f.Properties["loops"] = len(lines)
		out = append(out, f)
	}
	return out
}

// RegistrationGeoJSON describes a registration as a FeatureCollection in
// the XY plane: scene and registered model footprints and boundaries, and
// the overlap ratio.
func RegistrationGeoJSON(model, scene *Mesh, res RegistrationResult, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range MeshFeatures(scene, IdentityTransform(), "scene", tolerance) {
		fc.Append(f)
	}
	for _, f := range MeshFeatures(model, res.Transform, "model", tolerance) {
		f.Properties["error"] = finite(res.Error)
		f.Properties["converged"] = res.Converged
		fc.Append(f)
	}
	if len(fc.Features) > 0 {
		fc.ExtraMembers = geojson.Properties{
			"overlap": OverlapRatio(model, scene, res.Transform),
			"params":  res.Transform.Params(),
		}
	}
	return fc
}

// WriteGeoJSON writes fc as indented JSON.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	raw, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	var pretty json.RawMessage = raw
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("indenting GeoJSON: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating GeoJSON directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing GeoJSON file: %w", err)
	}
	return nil
}
