package mesh

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

func TestJacobiEigen_Reconstructs(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		n    int
	}{
		{"diagonal", []float64{3, 0, 0, 0, -1, 0, 0, 0, 2}, 3},
		{"dense 3x3", []float64{4, 1, 2, 1, 3, 0.5, 2, 0.5, 5}, 3},
		{"dense 4x4", []float64{
			2, -1, 0, 0.3,
			-1, 2, -1, 0,
			0, -1, 2, -1,
			0.3, 0, -1, 2,
		}, 4},
		{"repeated eigenvalue", []float64{2, 0, 0, 0, 1, 1, 0, 1, 1}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mat.NewSymDense(tt.n, tt.data)
			eig, err := JacobiEigen(a)
			if err != nil {
				t.Fatalf("JacobiEigen() error: %v", err)
			}

			// V·diag(λ)·Vᵀ == A
			var vd, recon mat.Dense
			vd.Mul(eig.Vectors, mat.NewDiagDense(tt.n, eig.Values))
			recon.Mul(&vd, eig.Vectors.T())
			if !mat.EqualApprox(&recon, a, 1e-10) {
				t.Errorf("reconstruction mismatch:\n%v", mat.Formatted(&recon))
			}

			// VᵀV == I
			var vtv mat.Dense
			vtv.Mul(eig.Vectors.T(), eig.Vectors)
			id := mat.NewDiagDense(tt.n, ones(tt.n))
			if !mat.EqualApprox(&vtv, id, 1e-10) {
				t.Errorf("eigenvectors not orthonormal:\n%v", mat.Formatted(&vtv))
			}

			// same spectrum as gonum's solver
			var ref mat.EigenSym
			if !ref.Factorize(a, false) {
				t.Fatal("EigenSym.Factorize failed")
			}
			want := ref.Values(nil)
			got := append([]float64(nil), eig.Values...)
			sort.Float64s(want)
			sort.Float64s(got)
			if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-10)); diff != "" {
				t.Errorf("eigenvalues mismatch (-gonum +jacobi):\n%s", diff)
			}
		})
	}
}

func TestJacobiEigen_ReadsUpperTriangle(t *testing.T) {
	sym := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	eig, err := JacobiEigen(sym)
	if err != nil {
		t.Fatal(err)
	}
	eig.Sort()
	if !almostEqual(eig.Values[0], 3) || !almostEqual(eig.Values[1], -1) {
		t.Errorf("Values = %v, want [3 -1]", eig.Values)
	}
}

func TestJacobiEigen_NoConvergence(t *testing.T) {
	nan := math.NaN()
	a := mat.NewSymDense(4, []float64{
		nan, 1, 0, 0,
		1, nan, 1, 0,
		0, 1, nan, 1,
		0, 0, 1, nan,
	})
	_, err := JacobiEigen(a)
	if !errors.Is(err, ErrJacobiNoConvergence) {
		t.Fatalf("err = %v, want ErrJacobiNoConvergence", err)
	}
	if !IsFatal(err) {
		t.Error("a solver failure must be fatal")
	}
}

func TestEigenSystem_Sort(t *testing.T) {
	a := mat.NewSymDense(3, []float64{1, 0, 0, 0, -5, 0, 0, 0, 3})
	eig, err := JacobiEigen(a)
	if err != nil {
		t.Fatal(err)
	}
	eig.Sort()

	if diff := cmp.Diff([]float64{-5, 3, 1}, eig.Values); diff != "" {
		t.Errorf("sorted values (-want +got):\n%s", diff)
	}
	// eigenvector of -5 is ŷ and must have moved with its value
	col := eig.Column(0)
	if math.Abs(math.Abs(col[1])-1) > 1e-12 {
		t.Errorf("Column(0) = %v, want ±ŷ", col)
	}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
