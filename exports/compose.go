package exports

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"math"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"squish_back/assets"
	"squish_back/layers"
	"squish_back/projects"
)

// Compositor flattens a project's background and ordered layer stack into one
// RGBA raster. Blend modes beyond normal and full text shaping are rendered
// approximately; the canvas geometry (order, transforms, opacity) is exact.
type Compositor struct {
	cache *assets.Cache
}

func NewCompositor(cache *assets.Cache) *Compositor {
	return &Compositor{cache: cache}
}

// Flatten renders the layer stack onto a canvas-sized image. Layers draw in
// index order, so lower indices end up behind.
func (c *Compositor) Flatten(ctx context.Context, settings *projects.CanvasSettings, stack []layers.Layer) (*image.RGBA, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, settings.Width, settings.Height))

	if err := c.drawBackground(ctx, canvas, settings); err != nil {
		return nil, err
	}

	handles := make([]*assets.Handle, 0, len(stack))
	defer func() {
		for _, h := range handles {
			c.cache.Release(h)
		}
	}()

	for _, layer := range stack {
		switch layer.Type {
		case layers.TypeImage, layers.TypeSticker:
			if layer.AssetID == nil {
				continue
			}
			handle, err := c.cache.Acquire(ctx, *layer.AssetID)
			if err != nil {
				// A broken asset renders as a gap, not a failed export.
				continue
			}
			handles = append(handles, handle)
			drawRaster(canvas, handle.Image, layer)
		case layers.TypeText:
			drawText(canvas, layer)
		}
	}
	return canvas, nil
}

func (c *Compositor) drawBackground(ctx context.Context, canvas *image.RGBA, settings *projects.CanvasSettings) error {
	var bg projects.BackgroundDescriptor
	if len(settings.Background) > 0 {
		if err := json.Unmarshal(settings.Background, &bg); err != nil {
			bg = projects.BackgroundDescriptor{Type: projects.BackgroundNone}
		}
	} else {
		bg.Type = projects.BackgroundNone
	}

	switch bg.Type {
	case projects.BackgroundColor:
		fill, err := parseHexColor(bg.Value)
		if err != nil {
			return fmt.Errorf("exports: background color: %w", err)
		}
		stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(fill), image.Point{}, stddraw.Src)
	case projects.BackgroundImage:
		handle, err := c.cache.Acquire(ctx, bg.AssetID)
		if err != nil {
			// Failed background loads fall back to none.
			return nil
		}
		defer c.cache.Release(handle)
		xdraw.NearestNeighbor.Scale(canvas, canvas.Bounds(), handle.Image, handle.Image.Bounds(), xdraw.Src, nil)
	}
	return nil
}

// drawRaster scales the source into the layer's transform rect, applies
// flips, rotation and opacity, then composites over the canvas.
func drawRaster(canvas *image.RGBA, src image.Image, layer layers.Layer) {
	t := layer.TransformValue()

	srcRect := src.Bounds()
	if t.Crop != nil {
		srcRect = image.Rect(
			srcRect.Min.X+int(t.Crop.X),
			srcRect.Min.Y+int(t.Crop.Y),
			srcRect.Min.X+int(t.Crop.X+t.Crop.Width),
			srcRect.Min.Y+int(t.Crop.Y+t.Crop.Height),
		).Intersect(src.Bounds())
		if srcRect.Empty() {
			return
		}
	}

	w := int(math.Round(t.Width * math.Abs(t.ScaleX)))
	h := int(math.Round(t.Height * math.Abs(t.ScaleY)))
	if w <= 0 || h <= 0 {
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), src, srcRect, xdraw.Src, nil)

	if t.ScaleX < 0 {
		scaled = mirror(scaled, true)
	}
	if t.ScaleY < 0 {
		scaled = mirror(scaled, false)
	}
	if t.Rotation != 0 {
		scaled = rotate(scaled, t.Rotation)
	}

	compositeOver(canvas, scaled, int(math.Round(t.X)), int(math.Round(t.Y)), t.Opacity)
}

func drawText(canvas *image.RGBA, layer layers.Layer) {
	t := layer.TransformValue()
	style := layer.StyleValue()
	if layer.Content == nil {
		return
	}

	w := int(math.Round(t.Width))
	h := int(math.Round(t.Height))
	if w <= 0 || h <= 0 {
		return
	}
	block := image.NewRGBA(image.Rect(0, 0, w, h))

	textColor := color.RGBA{A: 0xff}
	if style != nil {
		if style.Background != "" {
			if bg, err := parseHexColor(style.Background); err == nil {
				stddraw.Draw(block, block.Bounds(), image.NewUniform(bg), image.Point{}, stddraw.Src)
			}
		}
		if style.Color != "" {
			if fg, err := parseHexColor(style.Color); err == nil {
				textColor = fg
			}
		}
	}

	// Basic bitmap face: layout fidelity is out of scope, placement is not.
	face := basicfont.Face7x13
	drawer := font.Drawer{
		Dst:  block,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(2, face.Ascent+2),
	}
	lineHeight := face.Height + 2
	for _, line := range strings.Split(*layer.Content, "\n") {
		drawer.Dot.X = fixed.I(2)
		drawer.DrawString(line)
		drawer.Dot.Y += fixed.I(lineHeight)
		if drawer.Dot.Y.Ceil() > h {
			break
		}
	}

	if t.Rotation != 0 {
		block = rotate(block, t.Rotation)
	}
	compositeOver(canvas, block, int(math.Round(t.X)), int(math.Round(t.Y)), t.Opacity)
}

// compositeOver draws src over the canvas at (x,y) with uniform opacity.
func compositeOver(canvas *image.RGBA, src *image.RGBA, x, y int, opacity float64) {
	opacity = math.Max(0, math.Min(1, opacity))
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 0xff))})
	rect := src.Bounds().Add(image.Pt(x, y))
	stddraw.DrawMask(canvas, rect, src, image.Point{}, mask, image.Point{}, stddraw.Over)
}

func mirror(src *image.RGBA, horizontal bool) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sx, sy := x, y
			if horizontal {
				sx = bounds.Max.X - 1 - (x - bounds.Min.X)
			} else {
				sy = bounds.Max.Y - 1 - (y - bounds.Min.Y)
			}
			out.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return out
}

// rotate maps each destination pixel back through the inverse rotation around
// the image centre, nearest-neighbour.
func rotate(src *image.RGBA, degrees float64) *image.RGBA {
	rad := degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	bounds := src.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	// The epsilon absorbs float noise at axis-aligned angles so a quarter
	// turn does not gain a pixel.
	outW := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin) - 1e-9))
	outH := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos) - 1e-9))
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))

	cx, cy := w/2, h/2
	ocx, ocy := float64(outW)/2, float64(outH)/2

	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			dx := float64(x) - ocx
			dy := float64(y) - ocy
			sx := int(math.Round(dx*cos + dy*sin + cx))
			sy := int(math.Round(-dx*sin + dy*cos + cy))
			if sx >= 0 && sx < int(w) && sy >= 0 && sy < int(h) {
				out.SetRGBA(x, y, src.RGBAAt(bounds.Min.X+sx, bounds.Min.Y+sy))
			}
		}
	}
	return out
}

func parseHexColor(value string) (color.RGBA, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(trimmed) == 3 {
		trimmed = string([]byte{trimmed[0], trimmed[0], trimmed[1], trimmed[1], trimmed[2], trimmed[2]})
	}
	if len(trimmed) != 6 && len(trimmed) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", value)
	}
	parsed, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", value)
	}
	if len(trimmed) == 8 {
		return color.RGBA{
			R: uint8(parsed >> 24),
			G: uint8(parsed >> 16),
			B: uint8(parsed >> 8),
			A: uint8(parsed),
		}, nil
	}
	return color.RGBA{
		R: uint8(parsed >> 16),
		G: uint8(parsed >> 8),
		B: uint8(parsed),
		A: 0xff,
	}, nil
}
