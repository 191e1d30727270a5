package mesh

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func samplePoints() []r3.Vec {
	return []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 3, Y: 0, Z: 1},
		{X: 0, Y: 2, Z: -1},
		{X: 1, Y: 1, Z: 4},
		{X: -2, Y: 3, Z: 0.5},
		{X: 2.5, Y: -1, Z: -2},
	}
}

func TestWeightedRigidFit_RecoversTransform(t *testing.T) {
	tests := []struct {
		name string
		want RigidTransform
	}{
		{"identity", IdentityTransform()},
		{"translation", TransformFromParams(1, -2, 0.5, 0, 0, 0)},
		{"small rotation", TransformFromParams(0.2, 0.1, -0.3, 2, -1, 3)},
		{"large rotation", TransformFromParams(-4, 7, 2, 40, -60, 120)},
		{"half turn", TransformFromParams(0, 0, 0, 0, 0, 180)},
	}

	model := samplePoints()
	weights := ones(len(model))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scene := tt.want.ApplyAll(model)
			fit, err := WeightedRigidFit(model, scene, weights)
			if err != nil {
				t.Fatalf("WeightedRigidFit() error: %v", err)
			}
			if !transformNear(fit.Transform, tt.want, 1e-9) {
				t.Errorf("Transform = %+v, want %+v", fit.Transform, tt.want)
			}
			if fit.Error > 1e-9 {
				t.Errorf("Error = %v, want ~0", fit.Error)
			}
		})
	}
}

func TestWeightedRigidFit_WeightScaleInvariant(t *testing.T) {
	model := samplePoints()
	truth := TransformFromParams(0.5, 0.5, 0, 5, 0, -10)
	scene := truth.ApplyAll(model)
	// corrupt one pair; the down-weighted fit must stay close to the truth
	scene[5] = r3.Add(scene[5], r3.Vec{X: 3})

	w1 := []float64{1, 1, 1, 1, 1, 0.01}
	w2 := make([]float64, len(w1))
	for i, w := range w1 {
		w2[i] = 7 * w
	}
	a, err := WeightedRigidFit(model, scene, w1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := WeightedRigidFit(model, scene, w2)
	if err != nil {
		t.Fatal(err)
	}
	if !transformNear(a.Transform, b.Transform, 1e-9) {
		t.Errorf("scaled weights changed the fit: %+v vs %+v", a.Transform, b.Transform)
	}
	if math.Abs(7*a.Error-b.Error) > 1e-9 {
		t.Errorf("Error should scale with the weights: %v vs %v", a.Error, b.Error)
	}

	zeroed := []float64{1, 1, 1, 1, 1, 0}
	c, err := WeightedRigidFit(model, scene, zeroed)
	if err != nil {
		t.Fatal(err)
	}
	if !transformNear(c.Transform, truth, 1e-9) {
		t.Errorf("zero-weight outlier still moved the fit: %+v", c.Transform)
	}
}

func TestWeightedRigidFit_Errors(t *testing.T) {
	p := samplePoints()
	if _, err := WeightedRigidFit(p[:2], p[:2], []float64{1, 1}); !errors.Is(err, ErrTooFewPairs) {
		t.Errorf("err = %v, want ErrTooFewPairs", err)
	}
	if _, err := WeightedRigidFit(p, p[:3], ones(len(p))); err == nil {
		t.Error("expected length mismatch error")
	}
}
