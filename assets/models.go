package assets

import "time"

// ImageAsset stores raw image bytes keyed by a generated id. Assets are
// shared: layers reference them by id and deleting a layer never deletes the
// asset.
type ImageAsset struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	MimeType  string    `gorm:"size:64;not null" json:"mime_type"`
	Data      []byte    `gorm:"not null" json:"-"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

func (ImageAsset) TableName() string {
	return "image_assets"
}

// StickerAsset is an image asset cut out or imported as a sticker. The
// optional source image id records provenance, not ownership.
type StickerAsset struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	MimeType      string    `gorm:"size:64;not null" json:"mime_type"`
	Data          []byte    `gorm:"not null" json:"-"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	SourceImageID *string   `gorm:"size:36;index" json:"source_image_id,omitempty"`
	PackID        *string   `gorm:"size:36;index" json:"pack_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (StickerAsset) TableName() string {
	return "sticker_assets"
}
