package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"squish_back/assets"
	"squish_back/layers"
	"squish_back/projects"
)

func solidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fakeCache(t *testing.T, byID map[string]color.RGBA) *assets.Cache {
	t.Helper()
	return assets.NewCache(func(ctx context.Context, id string) ([]byte, string, error) {
		c, ok := byID[id]
		if !ok {
			return nil, "", errors.New("unknown asset")
		}
		return solidPNG(t, c, 8, 8), "image/png", nil
	})
}

func settingsWith(t *testing.T, w, h int, bg projects.BackgroundDescriptor) *projects.CanvasSettings {
	t.Helper()
	raw, err := json.Marshal(bg)
	require.NoError(t, err)
	return &projects.CanvasSettings{Width: w, Height: h, Background: datatypes.JSON(raw)}
}

func imageLayer(id, assetID string, x, y, w, h float64) layers.Layer {
	aid := assetID
	return layers.Layer{
		ID: id, Type: layers.TypeImage, AssetID: &aid,
		X: x, Y: y, Width: w, Height: h,
		ScaleX: 1, ScaleY: 1, Opacity: 1, BlendMode: "normal",
	}
}

func TestFlattenBackgroundColor(t *testing.T) {
	c := NewCompositor(fakeCache(t, nil))
	settings := settingsWith(t, 20, 10, projects.BackgroundDescriptor{Type: projects.BackgroundColor, Value: "#ff0000"})

	out, err := c.Flatten(context.Background(), settings, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, out.Bounds().Dx())
	assert.Equal(t, 10, out.Bounds().Dy())
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, out.RGBAAt(5, 5))
}

func TestFlattenDrawsLayersInIndexOrder(t *testing.T) {
	cache := fakeCache(t, map[string]color.RGBA{
		"red":  {R: 0xff, A: 0xff},
		"blue": {B: 0xff, A: 0xff},
	})
	c := NewCompositor(cache)
	settings := settingsWith(t, 40, 40, projects.BackgroundDescriptor{Type: projects.BackgroundNone})

	bottom := imageLayer("l1", "red", 0, 0, 20, 20)
	bottom.Index = 0
	top := imageLayer("l2", "blue", 10, 10, 20, 20)
	top.Index = 1

	out, err := c.Flatten(context.Background(), settings, []layers.Layer{bottom, top})
	require.NoError(t, err)

	// Overlap region shows the later (higher-index) layer.
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, out.RGBAAt(15, 15))
	// Non-overlapping corner of the bottom layer stays red.
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, out.RGBAAt(2, 2))
	// Outside both layers is transparent.
	assert.Equal(t, color.RGBA{}, out.RGBAAt(38, 2))
}

func TestFlattenSkipsBrokenAssets(t *testing.T) {
	cache := fakeCache(t, map[string]color.RGBA{"ok": {G: 0xff, A: 0xff}})
	c := NewCompositor(cache)
	settings := settingsWith(t, 30, 30, projects.BackgroundDescriptor{Type: projects.BackgroundNone})

	broken := imageLayer("l1", "missing", 0, 0, 10, 10)
	good := imageLayer("l2", "ok", 15, 15, 10, 10)

	out, err := c.Flatten(context.Background(), settings, []layers.Layer{broken, good})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{}, out.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, out.RGBAAt(20, 20))
}

func TestFlattenAppliesOpacity(t *testing.T) {
	cache := fakeCache(t, map[string]color.RGBA{"red": {R: 0xff, A: 0xff}})
	c := NewCompositor(cache)
	settings := settingsWith(t, 10, 10, projects.BackgroundDescriptor{Type: projects.BackgroundColor, Value: "#000000"})

	half := imageLayer("l1", "red", 0, 0, 10, 10)
	half.Opacity = 0.5

	out, err := c.Flatten(context.Background(), settings, []layers.Layer{half})
	require.NoError(t, err)

	got := out.RGBAAt(5, 5)
	assert.InDelta(t, 128, int(got.R), 2)
	assert.Equal(t, uint8(0xff), got.A)
}

func TestFlattenRendersTextBlock(t *testing.T) {
	c := NewCompositor(fakeCache(t, nil))
	settings := settingsWith(t, 100, 60, projects.BackgroundDescriptor{Type: projects.BackgroundNone})

	content := "HI"
	styleRaw, err := json.Marshal(layers.TextStyle{FontFamily: "Arial", FontSize: 13, Color: "#ffffff", Background: "#0000ff"})
	require.NoError(t, err)
	text := layers.Layer{
		ID: "t1", Type: layers.TypeText, Content: &content, Style: datatypes.JSON(styleRaw),
		X: 10, Y: 10, Width: 60, Height: 30,
		ScaleX: 1, ScaleY: 1, Opacity: 1, BlendMode: "normal",
	}

	out, err := c.Flatten(context.Background(), settings, []layers.Layer{text})
	require.NoError(t, err)

	// The style background fills the text block.
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, out.RGBAAt(60, 35))
	// Outside the block stays transparent.
	assert.Equal(t, color.RGBA{}, out.RGBAAt(5, 5))
}

func TestParseHexColor(t *testing.T) {
	got, err := parseHexColor("#336699")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}, got)

	got, err = parseHexColor("fff")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, got)

	got, err = parseHexColor("#11223344")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x44}, got)

	_, err = parseHexColor("bogus")
	assert.Error(t, err)
}

func TestMirrorFlipsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	img.SetRGBA(1, 0, color.RGBA{B: 0xff, A: 0xff})

	flipped := mirror(img, true)
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, flipped.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, flipped.RGBAAt(1, 0))
}

func TestRotateQuarterTurn(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	rotated := rotate(img, 90)
	assert.Equal(t, 2, rotated.Bounds().Dx())
	assert.Equal(t, 4, rotated.Bounds().Dy())
}
