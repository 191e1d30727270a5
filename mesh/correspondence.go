package mesh

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// CorrespondenceRequest bundles the inputs of one MATCH step. Model, Scene
// and Index are shared read-only across workers.
type CorrespondenceRequest struct {
	Model     *Mesh
	Scene     *Mesh
	Index     *NNIndex
	Transform RigidTransform

	FineMatching    bool
	NormalThreshold float64 // radians
	DistThreshold   float64
	OverlapFilter   bool

	// Workers splits the model vertices into contiguous chunks; values
	// below 2 run inline.
	Workers int
}

// FindCorrespondences matches every model vertex, under req.Transform, to the
// scene. Pairs are returned in model vertex order with unit weight.
func FindCorrespondences(ctx context.Context, req CorrespondenceRequest) ([]MatchedPair, error) {
	n := len(req.Model.Vertices)
	workers := req.Workers
	if workers < 2 || n < 2*workers {
		return matchRange(ctx, req, 0, n)
	}

	chunk := (n + workers - 1) / workers
	slots := make([][]MatchedPair, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			pairs, err := matchRange(gctx, req, lo, hi)
			slots[w] = pairs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, s := range slots {
		total += len(s)
	}
	out := make([]MatchedPair, 0, total)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out, nil
}

// matchRange matches model vertices [lo, hi).
func matchRange(ctx context.Context, req CorrespondenceRequest, lo, hi int) ([]MatchedPair, error) {
	cosT := math.Cos(req.NormalThreshold)
	neighbors := req.Scene.NeighborFaces()
	out := make([]MatchedPair, 0, hi-lo)

	for i := lo; i < hi; i++ {
		if (i-lo)&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		mv := req.Model.Vertices[i]
		p := req.Transform.Apply(mv.Coord)

		sv, _, dist := req.Index.Nearest(p, mv.Feature)
		if sv < 0 {
			continue
		}
		pair := MatchedPair{
			ModelIndex:   i,
			SceneIndex:   sv,
			Model:        p,
			Scene:        req.Scene.Vertices[sv].Coord,
			ModelFeature: mv.Feature,
			SceneFeature: req.Scene.Vertices[sv].Feature,
			Weight:       1,
			Distance:     dist,
			Region:       RegionVertex1,
			Face:         -1,
		}

		if req.FineMatching {
			if len(neighbors[sv]) == 0 {
				// isolated scene vertex
				continue
			}
			fp, found, err := ClosestFacePoint(p, neighbors[sv], req.Scene, req.DistThreshold)
			if err != nil {
				return nil, fmt.Errorf("model vertex %d: %w", i, err)
			}
			if !found {
				continue
			}
			if req.OverlapFilter && req.Scene.touchesBoundary(fp.Face, fp.Region) {
				continue
			}
			n := req.Transform.ApplyVector(mv.Normal)
			if r3.Dot(n, req.Scene.surfaceNormal(fp.Face, fp.Region)) < cosT {
				continue
			}
			pair.Scene = fp.Point
			pair.Distance = fp.Distance
			pair.Region = fp.Region
			pair.Face = fp.Face
		} else if req.OverlapFilter && req.Scene.Vertices[sv].Boundary {
			continue
		}

		if pair.Distance > req.DistThreshold {
			continue
		}
		out = append(out, pair)
	}
	return out, nil
}
