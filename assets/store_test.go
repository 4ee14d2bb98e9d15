package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squish_back/store"
)

func setupAssetStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ImageAsset{}, &StickerAsset{}))
	return NewStore(db, nil)
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestCreateImageNormalisesToPNG(t *testing.T) {
	s := setupAssetStore(t)
	ctx := context.Background()

	asset, err := s.CreateImage(ctx, "photo", "image/jpeg", jpegBytes(t, 6, 4))
	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Equal(t, 6, asset.Width)
	assert.Equal(t, 4, asset.Height)

	data, mime, err := s.Data(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	decoded, err := Decode(data, mime)
	require.NoError(t, err)
	assert.Equal(t, 6, decoded.Bounds().Dx())
}

func TestCreateImageKeepsUndecodableBytes(t *testing.T) {
	s := setupAssetStore(t)
	ctx := context.Background()

	payload := []byte("definitely not an image")
	asset, err := s.CreateImage(ctx, "weird", "image/png", payload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Zero(t, asset.Width)

	data, _, err := s.Data(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestCreateImageRejectsEmptyPayload(t *testing.T) {
	s := setupAssetStore(t)
	_, err := s.CreateImage(context.Background(), "empty", "image/png", nil)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestGetImageOmitsPayload(t *testing.T) {
	s := setupAssetStore(t)
	ctx := context.Background()

	created, err := s.CreateImage(ctx, "photo", "image/jpeg", jpegBytes(t, 3, 3))
	require.NoError(t, err)

	meta, err := s.GetImage(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, meta.Data)
	assert.Equal(t, created.Width, meta.Width)

	_, err = s.GetImage(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStickerCarriesPackAndSource(t *testing.T) {
	s := setupAssetStore(t)
	ctx := context.Background()

	source, err := s.CreateImage(ctx, "original", "image/jpeg", jpegBytes(t, 4, 4))
	require.NoError(t, err)

	packID := "pack-1"
	sticker, err := s.CreateSticker(ctx, "cutout", "image/jpeg", jpegBytes(t, 4, 4), &source.ID, &packID)
	require.NoError(t, err)
	require.NotNil(t, sticker.SourceImageID)
	assert.Equal(t, source.ID, *sticker.SourceImageID)
	require.NotNil(t, sticker.PackID)
	assert.Equal(t, packID, *sticker.PackID)

	// Data lookup falls through to the sticker table.
	data, _, err := s.Data(ctx, sticker.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
