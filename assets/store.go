package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"squish_back/store"
)

const maxAssetBytes = 32 * 1024 * 1024

// Store owns durable binary assets for images and stickers.
type Store struct {
	db    *gorm.DB
	cache *metaCache
}

func NewStore(db *gorm.DB, cache *metaCache) *Store {
	return &Store{db: db, cache: cache}
}

// CreateImage stores an image asset, normalising the payload to PNG so every
// stored image is transparency-capable. When the bytes cannot be decoded the
// original payload is stored unmodified instead of failing the operation.
func (s *Store) CreateImage(ctx context.Context, name, mimeType string, data []byte) (*ImageAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: asset payload is empty", store.ErrValidation)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("%w: asset exceeds %d bytes", store.ErrValidation, maxAssetBytes)
	}

	normalized, outMime, w, h := normalize(data, mimeType)
	asset := &ImageAsset{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		MimeType: outMime,
		Data:     normalized,
		Width:    w,
		Height:   h,
	}
	if asset.Name == "" {
		asset.Name = "untitled"
	}

	if err := store.WithRetry(func() error {
		return s.db.WithContext(ctx).Create(asset).Error
	}); err != nil {
		return nil, fmt.Errorf("assets: create image: %w", err)
	}
	s.cache.storeMeta(ctx, asset.ID, assetMeta{Name: asset.Name, MimeType: asset.MimeType, Width: w, Height: h})
	return asset, nil
}

// CreateSticker stores a sticker asset; sourceImageID links back to the image
// the sticker was derived from, when known.
func (s *Store) CreateSticker(ctx context.Context, name, mimeType string, data []byte, sourceImageID, packID *string) (*StickerAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: asset payload is empty", store.ErrValidation)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("%w: asset exceeds %d bytes", store.ErrValidation, maxAssetBytes)
	}

	normalized, outMime, w, h := normalize(data, mimeType)
	asset := &StickerAsset{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		MimeType:      outMime,
		Data:          normalized,
		Width:         w,
		Height:        h,
		SourceImageID: sourceImageID,
		PackID:        packID,
	}
	if asset.Name == "" {
		asset.Name = "sticker"
	}

	if err := store.WithRetry(func() error {
		return s.db.WithContext(ctx).Create(asset).Error
	}); err != nil {
		return nil, fmt.Errorf("assets: create sticker: %w", err)
	}
	s.cache.storeMeta(ctx, asset.ID, assetMeta{Name: asset.Name, MimeType: asset.MimeType, Width: w, Height: h})
	return asset, nil
}

// GetImage returns image asset metadata without the payload.
func (s *Store) GetImage(ctx context.Context, id string) (*ImageAsset, error) {
	var asset ImageAsset
	if err := s.db.WithContext(ctx).Omit("data").First(&asset, "id = ?", id).Error; err != nil {
		return nil, store.Normalize(err)
	}
	return &asset, nil
}

// Data returns the raw bytes for an asset id, checking image assets first and
// falling back to stickers. Both tables share the uuid id space.
func (s *Store) Data(ctx context.Context, id string) ([]byte, string, error) {
	var img ImageAsset
	err := s.db.WithContext(ctx).First(&img, "id = ?", id).Error
	if err == nil {
		return img.Data, img.MimeType, nil
	}
	var sticker StickerAsset
	if err := s.db.WithContext(ctx).First(&sticker, "id = ?", id).Error; err != nil {
		return nil, "", store.Normalize(err)
	}
	return sticker.Data, sticker.MimeType, nil
}

// ListImages returns image asset metadata, newest first.
func (s *Store) ListImages(ctx context.Context) ([]ImageAsset, error) {
	var result []ImageAsset
	if err := s.db.WithContext(ctx).Omit("data").Order("created_at desc").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ListStickers returns sticker asset metadata, newest first.
func (s *Store) ListStickers(ctx context.Context) ([]StickerAsset, error) {
	var result []StickerAsset
	if err := s.db.WithContext(ctx).Omit("data").Order("created_at desc").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// normalize decodes the payload and re-encodes it as PNG, returning the
// stored bytes, mime type and probed dimensions. Decode failure falls back to
// the original bytes: a bad encoder should not lose the user's upload.
func normalize(data []byte, mimeType string) ([]byte, string, int, int) {
	img, err := decode(data, mimeType)
	if err != nil {
		log.Printf("assets: normalize: keeping original bytes: %v", err)
		return data, mimeType, 0, 0
	}

	bounds := img.Bounds()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Printf("assets: normalize: png encode failed, keeping original bytes: %v", err)
		return data, mimeType, bounds.Dx(), bounds.Dy()
	}
	return buf.Bytes(), "image/png", bounds.Dx(), bounds.Dy()
}

func decode(data []byte, mimeType string) (image.Image, error) {
	reader := bytes.NewReader(data)
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png", "image/x-png":
		return png.Decode(reader)
	case "image/jpeg", "image/pjpeg":
		return jpeg.Decode(reader)
	case "image/gif":
		return gif.Decode(reader)
	case "image/webp":
		return webp.Decode(reader)
	case "image/bmp", "image/x-ms-bmp":
		return bmp.Decode(reader)
	default:
		img, _, err := image.Decode(reader)
		return img, err
	}
}

// Decode exposes the format-aware decoder for sibling modules (export
// compositing, background rendering).
func Decode(data []byte, mimeType string) (image.Image, error) {
	return decode(data, mimeType)
}
