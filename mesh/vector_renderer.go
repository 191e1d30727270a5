package mesh

import (
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"gonum.org/v1/gonum/spatial/r3"
)

// nrgbaToRGBA premultiplies alpha; canvas expects premultiplied colours.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// VectorRenderer draws registered meshes as flat-shaded vector graphics.
type VectorRenderer struct {
	Layers      []PreviewLayer
	View        Matrix3
	Width       float64           // canvas width in millimetres
	Padding     float64           // canvas millimetres
	Resolution  canvas.Resolution // PNG output only
	StrokeWidth float64           // canvas millimetres
	Light       r3.Vec            // view-space light direction
}

// NewVectorRenderer creates a vector renderer for a model registered onto a
// scene.
func NewVectorRenderer(model, scene *Mesh, t RigidTransform) *VectorRenderer {
	base := NewOverlayRenderer(model, scene, t)
	return &VectorRenderer{
		Layers:      base.Layers,
		View:        Identity3(),
		Width:       200,
		Padding:     10,
		Resolution:  canvas.DPI(150),
		StrokeWidth: 0.15,
		Light:       r3.Vec{X: 0.3, Y: 0.3, Z: 1},
	}
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// projectedFace is one triangle ready to draw.
type projectedFace struct {
	pts   [3]r3.Vec
	depth float64
	shade float64
	color LayerColor
}

func (r *VectorRenderer) faces() []projectedFace {
	light := r3.Unit(r.Light)
	var out []projectedFace
	for _, l := range r.Layers {
		if l.Mesh == nil {
			continue
		}
		for i, f := range l.Mesh.Faces {
			var pf projectedFace
			for k, v := range f.V {
				pf.pts[k] = r.View.MulVec(l.Transform.Apply(l.Mesh.Vertices[v].Coord))
				pf.depth += pf.pts[k].Z / 3
			}
			n := r.View.MulVec(l.Transform.ApplyVector(l.Mesh.FaceNormal(i)))
			if r3.Norm(n) > 0 {
				n = r3.Unit(n)
			}
			pf.shade = 0.35 + 0.65*math.Abs(r3.Dot(n, light))
			pf.color = l.Color
			out = append(out, pf)
		}
	}
	// painter's order: far faces first
	sort.SliceStable(out, func(i, j int) bool { return out[i].depth < out[j].depth })
	return out
}

// layout returns the canvas size and the world-to-canvas mapping.
func (r *VectorRenderer) layout(faces []projectedFace) (width, height float64, toCanvas func(r3.Vec) (float64, float64)) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, f := range faces {
		for _, p := range f.pts {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		}
	}
	if len(faces) == 0 {
		minX, minY, maxX, maxY = 0, 0, 1, 1
	}
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	scale := (r.Width - 2*r.Padding) / span
	width = (maxX-minX)*scale + 2*r.Padding
	height = (maxY-minY)*scale + 2*r.Padding
	toCanvas = func(p r3.Vec) (float64, float64) {
		return (p.X-minX)*scale + r.Padding, (p.Y-minY)*scale + r.Padding
	}
	return width, height, toCanvas
}

// RenderToSVG writes the preview as SVG.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	faces := r.faces()
	width, height, toCanvas := r.layout(faces)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, faces, width, height, toCanvas)
	return svgRenderer.Close()
}

// RenderToPNG writes the preview as PNG at r.Resolution.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	faces := r.faces()
	width, height, toCanvas := r.layout(faces)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, faces, width, height, toCanvas)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, faces []projectedFace, width, height float64, toCanvas func(r3.Vec) (float64, float64)) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	for _, f := range faces {
		fill := f.color.Edge
		fill.R = uint8(float64(fill.R) * f.shade)
		fill.G = uint8(float64(fill.G) * f.shade)
		fill.B = uint8(float64(fill.B) * f.shade)

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(f.color.Boundary)}
		style.StrokeWidth = r.StrokeWidth

		p := &canvas.Path{}
		for k, pt := range f.pts {
			x, y := toCanvas(pt)
			if k == 0 {
				p.MoveTo(x, y)
			} else {
				p.LineTo(x, y)
			}
		}
		p.Close()
		renderer.RenderPath(p, style, canvas.Identity)
	}
}
