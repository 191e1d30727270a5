package mesh

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	triA = r3.Vec{X: 0, Y: 0, Z: 0}
	triB = r3.Vec{X: 4, Y: 0, Z: 0}
	triC = r3.Vec{X: 0, Y: 4, Z: 0}
)

func TestClosestPointOnTriangle_Regions(t *testing.T) {
	tests := []struct {
		name       string
		p          r3.Vec
		wantRegion Region
		wantPoint  r3.Vec
		wantDist   float64
	}{
		{"above face", r3.Vec{X: 1, Y: 1, Z: 2}, RegionFace, r3.Vec{X: 1, Y: 1}, 2},
		{"below face", r3.Vec{X: 1, Y: 1, Z: -3}, RegionFace, r3.Vec{X: 1, Y: 1}, 3},
		{"beyond edge12", r3.Vec{X: 2, Y: -1, Z: 0}, RegionEdge12, r3.Vec{X: 2}, 1},
		{"beyond edge23", r3.Vec{X: 3, Y: 3, Z: 0}, RegionEdge23, r3.Vec{X: 2, Y: 2}, math.Sqrt(2)},
		{"beyond edge31", r3.Vec{X: -2, Y: 1, Z: 0}, RegionEdge31, r3.Vec{Y: 1}, 2},
		{"beyond vertex1", r3.Vec{X: -1, Y: -1, Z: 1}, RegionVertex1, triA, math.Sqrt(3)},
		{"beyond vertex2", r3.Vec{X: 6, Y: -1, Z: 0}, RegionVertex2, triB, math.Sqrt(5)},
		{"beyond vertex3", r3.Vec{X: -1, Y: 6, Z: 0}, RegionVertex3, triC, math.Sqrt(5)},
		{"on vertex2", triB, RegionVertex2, triB, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClosestPointOnTriangle(tt.p, triA, triB, triC, 100)
			if !ok {
				t.Fatal("ClosestPointOnTriangle() ok = false")
			}
			if got.Region != tt.wantRegion {
				t.Errorf("Region = %v, want %v", got.Region, tt.wantRegion)
			}
			if !vecNear(got.Point, tt.wantPoint, 1e-12) {
				t.Errorf("Point = %v, want %v", got.Point, tt.wantPoint)
			}
			if math.Abs(got.Distance-tt.wantDist) > 1e-12 {
				t.Errorf("Distance = %v, want %v", got.Distance, tt.wantDist)
			}
		})
	}
}

func TestClosestPointOnTriangle_Threshold(t *testing.T) {
	p := r3.Vec{X: 1, Y: 1, Z: 2}
	if _, ok := ClosestPointOnTriangle(p, triA, triB, triC, 1.9); ok {
		t.Error("expected rejection beyond threshold")
	}
	if _, ok := ClosestPointOnTriangle(p, triA, triB, triC, 2); !ok {
		t.Error("expected acceptance at exactly the threshold")
	}
}

func TestClosestPointOnTriangle_Degenerate(t *testing.T) {
	collinear := r3.Vec{X: 8, Y: 0, Z: 0}
	if !IsDegenerateTriangle(triA, triB, collinear) {
		t.Fatal("IsDegenerateTriangle() = false for collinear points")
	}
	if _, ok := ClosestPointOnTriangle(r3.Vec{Z: 1}, triA, triB, collinear, 100); ok {
		t.Error("expected no result for a degenerate triangle")
	}
}

// The closest point must never be farther than any sampled point of the
// triangle, and must lie on it.
func TestClosestPointOnTriangle_MinimalOverSamples(t *testing.T) {
	a := r3.Vec{X: 0.3, Y: -1, Z: 0.2}
	b := r3.Vec{X: 2.5, Y: 0.4, Z: -0.7}
	c := r3.Vec{X: -0.4, Y: 1.8, Z: 1.1}
	queries := []r3.Vec{
		{X: 0, Y: 0, Z: 3},
		{X: 5, Y: 5, Z: 0},
		{X: -3, Y: -3, Z: -1},
		{X: 1, Y: 0.4, Z: 0.1},
		{X: 2.6, Y: 0.3, Z: -0.8},
		{X: -1, Y: 3, Z: 2},
	}

	const steps = 60
	for _, q := range queries {
		got, ok := ClosestPointOnTriangle(q, a, b, c, math.Inf(1))
		if !ok {
			t.Fatalf("query %v: ok = false", q)
		}
		if d := r3.Norm(r3.Sub(q, got.Point)); math.Abs(d-got.Distance) > 1e-9 {
			t.Errorf("query %v: Distance %v disagrees with |q-Point| %v", q, got.Distance, d)
		}
		for i := 0; i <= steps; i++ {
			for j := 0; i+j <= steps; j++ {
				u, v := float64(i)/steps, float64(j)/steps
				s := r3.Add(a, r3.Add(r3.Scale(u, r3.Sub(b, a)), r3.Scale(v, r3.Sub(c, a))))
				if d := r3.Norm(r3.Sub(q, s)); d < got.Distance-1e-9 {
					t.Fatalf("query %v: sample %v at %v beats closest %v at %v", q, s, d, got.Point, got.Distance)
				}
			}
		}
	}
}

func TestClosestFacePoint(t *testing.T) {
	m := unitGrid(t)

	t.Run("interior", func(t *testing.T) {
		fp, found, err := ClosestFacePoint(r3.Vec{X: 0.6, Y: 0.2, Z: 0.5}, m.NeighborFaces()[0], m, 1)
		if err != nil || !found {
			t.Fatalf("found=%v err=%v", found, err)
		}
		if fp.Region != RegionFace || math.Abs(fp.Distance-0.5) > 1e-12 {
			t.Errorf("got %v at %v, want face at 0.5", fp.Region, fp.Distance)
		}
		if !vecNear(fp.Point, r3.Vec{X: 0.6, Y: 0.2}, 1e-12) {
			t.Errorf("Point = %v", fp.Point)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, found, err := ClosestFacePoint(r3.Vec{X: 1, Y: 1, Z: 5}, m.NeighborFaces()[4], m, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Error("found = true beyond threshold")
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		_, _, err := ClosestFacePoint(r3.Vec{}, nil, m, 1)
		if !errors.Is(err, ErrNoCandidateFaces) {
			t.Errorf("err = %v, want ErrNoCandidateFaces", err)
		}
	})
}

func TestTouchesBoundary(t *testing.T) {
	m := unitGrid(t)
	// face 0 is (0,1,4): edge 0-1 lies on the border, edge 1-4 is interior
	// but vertex 1 is a border vertex.
	tests := []struct {
		region Region
		want   bool
	}{
		{RegionFace, false},
		{RegionEdge12, true},
		{RegionEdge23, true},
		{RegionEdge31, true},
		{RegionVertex1, true},
		{RegionVertex3, false},
	}
	if m.Faces[0].V != [3]int{0, 1, 4} {
		t.Fatalf("face 0 = %v, fixture changed", m.Faces[0].V)
	}
	for _, tt := range tests {
		if got := m.touchesBoundary(0, tt.region); got != tt.want {
			t.Errorf("touchesBoundary(0, %v) = %v, want %v", tt.region, got, tt.want)
		}
	}
}

func TestSurfaceNormal(t *testing.T) {
	m := unitGrid(t)
	up := r3.Vec{Z: 1}
	for _, r := range []Region{RegionFace, RegionEdge12, RegionVertex3} {
		if got := m.surfaceNormal(0, r); !vecNear(got, up, 1e-9) {
			t.Errorf("surfaceNormal(0, %v) = %v, want +Z", r, got)
		}
	}
}

func TestRegion_String(t *testing.T) {
	if RegionEdge23.String() != "edge23" || RegionVertex1.String() != "vertex1" {
		t.Errorf("unexpected names %q %q", RegionEdge23, RegionVertex1)
	}
	if Region(42).String() != "unknown" {
		t.Errorf("Region(42) = %q", Region(42))
	}
}
