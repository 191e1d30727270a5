package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxJacobiSweeps bounds the cyclic Jacobi iteration.
const maxJacobiSweeps = 50

// EigenSystem holds the eigen-decomposition of a real symmetric matrix.
// Vectors stores the eigenvector of Values[i] in column i.
type EigenSystem struct {
	Values    []float64
	Vectors   *mat.Dense
	Rotations int
}

// JacobiEigen decomposes a symmetric matrix with cyclic Jacobi rotations.
// Only the upper triangle of a is read. It fails with ErrJacobiNoConvergence
// after maxJacobiSweeps sweeps.
func JacobiEigen(a mat.Symmetric) (EigenSystem, error) {
	n, _ := a.Dims()
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		for j := i; j < n; j++ {
			w[i][j] = a.At(i, j)
		}
	}
	v := mat.NewDense(n, n, nil)
	d := make([]float64, n)
	b := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		v.Set(i, i, 1)
		d[i] = w[i][i]
		b[i] = d[i]
	}

	rot := func(m [][]float64, s, tau float64, i, j, k, l int) {
		g, h := m[i][j], m[k][l]
		m[i][j] = g - s*(h+g*tau)
		m[k][l] = h + s*(g-h*tau)
	}

	nrot := 0
	for sweep := 1; sweep <= maxJacobiSweeps; sweep++ {
		sm := 0.0
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				sm += math.Abs(w[p][q])
			}
		}
		if sm == 0 {
			return EigenSystem{Values: d, Vectors: v, Rotations: nrot}, nil
		}

		tresh := 0.0
		if sweep < 4 {
			tresh = 0.2 * sm / float64(n*n)
		}
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				g := 100 * math.Abs(w[p][q])
				if sweep > 4 && math.Abs(d[p])+g == math.Abs(d[p]) && math.Abs(d[q])+g == math.Abs(d[q]) {
					w[p][q] = 0
					continue
				}
				if math.Abs(w[p][q]) <= tresh {
					continue
				}

				h := d[q] - d[p]
				var t float64
				if math.Abs(h)+g == math.Abs(h) {
					t = w[p][q] / h
				} else {
					theta := 0.5 * h / w[p][q]
					t = 1 / (math.Abs(theta) + math.Sqrt(1+theta*theta))
					if theta < 0 {
						t = -t
					}
				}
				c := 1 / math.Sqrt(1+t*t)
				s := t * c
				tau := s / (1 + c)
				h = t * w[p][q]
				z[p] -= h
				z[q] += h
				d[p] -= h
				d[q] += h
				w[p][q] = 0

				for j := 0; j < p; j++ {
					rot(w, s, tau, j, p, j, q)
				}
				for j := p + 1; j < q; j++ {
					rot(w, s, tau, p, j, j, q)
				}
				for j := q + 1; j < n; j++ {
					rot(w, s, tau, p, j, q, j)
				}
				for j := 0; j < n; j++ {
					g, h := v.At(j, p), v.At(j, q)
					v.Set(j, p, g-s*(h+g*tau))
					v.Set(j, q, h+s*(g-h*tau))
				}
				nrot++
			}
		}
		for p := 0; p < n; p++ {
			b[p] += z[p]
			d[p] = b[p]
			z[p] = 0
		}
	}
	return EigenSystem{}, fmt.Errorf("%w: %d sweeps on %dx%d matrix", ErrJacobiNoConvergence, maxJacobiSweeps, n, n)
}

// Sort orders the eigenpairs by descending |λ|, swapping vector columns to
// match.
func (e EigenSystem) Sort() {
	n := len(e.Values)
	for i := 0; i < n-1; i++ {
		k := i
		for j := i + 1; j < n; j++ {
			if math.Abs(e.Values[j]) > math.Abs(e.Values[k]) {
				k = j
			}
		}
		if k == i {
			continue
		}
		e.Values[i], e.Values[k] = e.Values[k], e.Values[i]
		for r := 0; r < n; r++ {
			a, b := e.Vectors.At(r, i), e.Vectors.At(r, k)
			e.Vectors.Set(r, i, b)
			e.Vectors.Set(r, k, a)
		}
	}
}

// Column returns eigenvector i as a slice.
func (e EigenSystem) Column(i int) []float64 {
	return mat.Col(nil, i, e.Vectors)
}
