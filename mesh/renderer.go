package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/spatial/r3"
)

// LayerColor is the colour pair used for one mesh in a preview.
type LayerColor struct {
	Edge     color.NRGBA
	Boundary color.NRGBA
}

// DefaultLayerColors returns model and scene colours.
func DefaultLayerColors() (model, scene LayerColor) {
	model = LayerColor{
		Edge:     color.NRGBA{220, 20, 60, 160}, // Crimson
		Boundary: color.NRGBA{139, 0, 0, 255},   // Dark red
	}
	scene = LayerColor{
		Edge:     color.NRGBA{100, 149, 237, 160}, // Cornflower blue
		Boundary: color.NRGBA{0, 0, 139, 255},     // Dark blue
	}
	return model, scene
}

// PreviewLayer is one mesh drawn into a preview.
type PreviewLayer struct {
	Label     string
	Mesh      *Mesh
	Transform RigidTransform
	Color     LayerColor
}

// OverlayRenderer draws registered meshes as orthographic wireframes.
type OverlayRenderer struct {
	Layers  []PreviewLayer
	Pairs   []MatchedPair // drawn as grey segments when set
	View    Matrix3       // applied before dropping Z
	Size    int           // longer image side in pixels
	Padding int
	Caption string
}

// NewOverlayRenderer creates a renderer for a model registered onto a scene.
func NewOverlayRenderer(model, scene *Mesh, t RigidTransform) *OverlayRenderer {
	mc, sc := DefaultLayerColors()
	return &OverlayRenderer{
		Layers: []PreviewLayer{
			{Label: "scene", Mesh: scene, Transform: IdentityTransform(), Color: sc},
			{Label: "model", Mesh: model, Transform: t, Color: mc},
		},
		View:    Identity3(),
		Size:    800,
		Padding: 30,
	}
}

// ViewMatrix returns the view rotation for a named projection plane:
// "xy" (top), "xz" (front) or "yz" (side).
func ViewMatrix(plane string) (Matrix3, error) {
	switch plane {
	case "", "xy":
		return Identity3(), nil
	case "xz":
		return Matrix3{{1, 0, 0}, {0, 0, 1}, {0, -1, 0}}, nil
	case "yz":
		return Matrix3{{0, 1, 0}, {0, 0, 1}, {1, 0, 0}}, nil
	}
	return Matrix3{}, fmt.Errorf("unknown view plane %q", plane)
}

func (r *OverlayRenderer) project(l PreviewLayer, p r3.Vec) r3.Vec {
	return r.View.MulVec(l.Transform.Apply(p))
}

// bounds is the 2D extent of all layers after projection.
func (r *OverlayRenderer) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, l := range r.Layers {
		if l.Mesh == nil {
			continue
		}
		for _, v := range l.Mesh.Vertices {
			p := r.project(l, v.Coord)
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	return minX, minY, maxX, maxY
}

// Render draws all layers into a new image. Returns nil when there is
// nothing to draw.
func (r *OverlayRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.bounds()
	if math.IsInf(minX, 1) {
		return nil
	}
	spanX, spanY := maxX-minX, maxY-minY
	span := math.Max(spanX, spanY)
	if span == 0 {
		span = 1
	}
	scale := float64(r.Size) / span
	width := int(spanX*scale) + 2*r.Padding + 1
	height := int(spanY*scale) + 2*r.Padding + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	// image Y grows downward
	toPixel := func(p r3.Vec) (int, int) {
		x := int(math.Round((p.X-minX)*scale)) + r.Padding
		y := height - 1 - (int(math.Round((p.Y-minY)*scale)) + r.Padding)
		return x, y
	}

	for _, pair := range r.Pairs {
		x0, y0 := toPixel(r.View.MulVec(pair.Model))
		x1, y1 := toPixel(r.View.MulVec(pair.Scene))
		drawLine(img, x0, y0, x1, y1, color.NRGBA{128, 128, 128, 120})
	}

	for _, l := range r.Layers {
		if l.Mesh == nil {
			continue
		}
		for _, e := range l.Mesh.Edges {
			x0, y0 := toPixel(r.project(l, l.Mesh.Vertices[e.V[0]].Coord))
			x1, y1 := toPixel(r.project(l, l.Mesh.Vertices[e.V[1]].Coord))
			c := l.Color.Edge
			if e.Boundary {
				c = l.Color.Boundary
			}
			drawLine(img, x0, y0, x1, y1, c)
		}
	}

	r.drawLegend(img)
	return img
}

// SavePNG renders and writes the preview to path.
func (r *OverlayRenderer) SavePNG(path string) error {
	img := r.Render()
	if img == nil {
		return fmt.Errorf("nothing to render")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, img)
}

// drawLine rasterises a segment with Bresenham's algorithm, alpha-blending
// c onto the image.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	b := img.Bounds()
	for {
		if x0 >= b.Min.X && x0 < b.Max.X && y0 >= b.Min.Y && y0 < b.Max.Y {
			bg := img.RGBAAt(x0, y0)
			img.SetRGBA(x0, y0, blendColors(bg, c))
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// blendColors alpha-blends fg over an opaque bg.
func blendColors(bg color.RGBA, fg color.NRGBA) color.RGBA {
	a := float64(fg.A) / 255
	mix := func(b, f uint8) uint8 {
		return uint8(math.Round(float64(f)*a + float64(b)*(1-a)))
	}
	return color.RGBA{mix(bg.R, fg.R), mix(bg.G, fg.G), mix(bg.B, fg.B), 255}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawLegend draws a swatch and label per layer, then the caption
func (r *OverlayRenderer) drawLegend(img *image.RGBA) {
	y := 15
	for _, l := range r.Layers {
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, l.Color.Boundary)
			}
		}
		drawText(img, 28, y, l.Label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
	if r.Caption != "" {
		drawText(img, 10, y, r.Caption, color.RGBA{0, 0, 0, 255})
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// RenderRegistration writes a PNG preview of model under t over scene.
func RenderRegistration(model, scene *Mesh, res RegistrationResult, plane, path string) error {
	view, err := ViewMatrix(plane)
	if err != nil {
		return err
	}
	r := NewOverlayRenderer(model, scene, res.Transform)
	r.View = view
	r.Caption = fmt.Sprintf("error %.4g, %d iterations", res.Error, res.Iterations)
	return r.SavePNG(path)
}
