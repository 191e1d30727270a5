package mesh

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const epsilon = 1e-10

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestTransformFromParams_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params [6]float64
	}{
		{"identity", [6]float64{}},
		{"translation only", [6]float64{1, -2, 3, 0, 0, 0}},
		{"yaw", [6]float64{0, 0, 0, 0, 0, 30}},
		{"all axes", [6]float64{5, 6, 7, 10, -20, 45}},
		{"near gimbal", [6]float64{0, 0, 0, 0, 89, 0}},
	}

	approx := cmpopts.EquateApprox(0, 1e-9)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.params
			got := TransformFromParams(p[0], p[1], p[2], p[3], p[4], p[5]).Params()
			if diff := cmp.Diff(tt.params, got, approx); diff != "" {
				t.Errorf("Params() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTransformFromParams_RotationOrder(t *testing.T) {
	// Rz·Ry·Rx applied to x̂: rx leaves it alone, ry=90 sends it to -ẑ
	tr := TransformFromParams(0, 0, 0, 90, 90, 0)
	got := tr.Apply(r3.Vec{X: 1})
	if !vecNear(got, r3.Vec{Z: -1}, 1e-12) {
		t.Errorf("Apply(x̂) = %v, want (0,0,-1)", got)
	}
}

func TestRigidTransform_ComposeInverse(t *testing.T) {
	a := TransformFromParams(1, 2, 3, 10, 20, 30)
	b := TransformFromParams(-4, 0.5, 2, -15, 5, 60)
	p := r3.Vec{X: 3, Y: -1, Z: 2}

	ab := a.Compose(b)
	if want := b.Apply(a.Apply(p)); !vecNear(ab.Apply(p), want, 1e-9) {
		t.Errorf("Compose applies %v, want %v", ab.Apply(p), want)
	}

	back := ab.Compose(ab.Inverse())
	if !transformNear(back, IdentityTransform(), 1e-9) {
		t.Errorf("t∘t⁻¹ = %+v, want identity", back)
	}

	if d := ab.R.Det(); !almostEqual(d, 1) {
		t.Errorf("det(R) = %v, want 1", d)
	}
}

func TestRigidTransform_ApplyVectorIgnoresTranslation(t *testing.T) {
	tr := TransformFromParams(100, 100, 100, 0, 0, 90)
	got := tr.ApplyVector(r3.Vec{X: 1})
	if !vecNear(got, r3.Vec{Y: 1}, 1e-12) {
		t.Errorf("ApplyVector = %v, want (0,1,0)", got)
	}
}

func TestRotationAngle(t *testing.T) {
	for _, deg := range []float64{0, 1, 45, 90, 179} {
		tr := RigidTransform{R: AxisAngle(r3.Vec{X: 1, Y: 1, Z: 0}, deg*math.Pi/180)}
		if got := tr.RotationAngle() * 180 / math.Pi; math.Abs(got-deg) > 1e-6 {
			t.Errorf("RotationAngle(%v°) = %v°", deg, got)
		}
	}
}

func TestQuaternionMatrix(t *testing.T) {
	half := math.Pi / 4 // 90° about z
	q := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}

	tests := []struct {
		name string
		q    quat.Number
		want Matrix3
	}{
		{"identity", quat.Number{Real: 1}, Identity3()},
		{"zero", quat.Number{}, Identity3()},
		{"90 about z", q, Matrix3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}},
		{"negated is same rotation", quat.Scale(-1, q), Matrix3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}},
		{"unnormalized", quat.Scale(3, q), Matrix3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}},
	}

	approx := cmpopts.EquateApprox(0, 1e-12)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, QuaternionMatrix(tt.q), approx); diff != "" {
				t.Errorf("QuaternionMatrix mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOrthonormalize(t *testing.T) {
	m := AxisAngle(r3.Vec{X: 0.3, Y: -0.2, Z: 1}, 0.7)
	m[0][0] += 1e-6
	m[1][2] -= 2e-6

	o := orthonormalize(m)
	prod := o.Mul(o.Transpose())
	if diff := cmp.Diff(Identity3(), prod, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("R·Rᵀ not identity (-want +got):\n%s", diff)
	}
	if d := o.Det(); !almostEqual(d, 1) {
		t.Errorf("det = %v, want 1", d)
	}
}
