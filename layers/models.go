package layers

import (
	"time"

	"gorm.io/datatypes"
)

// Layer types. Exactly one variant's fields may be populated per row; the
// write boundary enforces the exclusivity.
const (
	TypeImage   = "image"
	TypeSticker = "sticker"
	TypeText    = "text"
)

// Layer stores every layer variant in one table with a type discriminator and
// nullable type-specific columns. Image and sticker layers reference an asset
// by id and never own the bytes; text layers carry inline content plus a JSON
// style record.
type Layer struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	ProjectID string  `gorm:"size:36;not null;index" json:"project_id"`
	Type      string  `gorm:"size:16;not null" json:"type"`
	X         float64 `gorm:"not null;default:0" json:"x"`
	Y         float64 `gorm:"not null;default:0" json:"y"`
	Width     float64 `gorm:"not null" json:"width"`
	Height    float64 `gorm:"not null" json:"height"`
	Rotation  float64 `gorm:"not null;default:0" json:"rotation"`
	ScaleX    float64 `gorm:"not null;default:1" json:"scale_x"`
	ScaleY    float64 `gorm:"not null;default:1" json:"scale_y"`
	Opacity   float64 `gorm:"not null;default:1" json:"opacity"`
	BlendMode string  `gorm:"size:32;not null;default:'normal'" json:"blend_mode"`

	// Image layers only.
	Crop datatypes.JSON `gorm:"type:json" json:"crop,omitempty"`
	// Image and sticker layers.
	AssetID *string `gorm:"size:36;index" json:"asset_id,omitempty"`
	// Text layers.
	Content *string        `gorm:"type:text" json:"content,omitempty"`
	Style   datatypes.JSON `gorm:"type:json" json:"style,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hydrated from layer_order on reads, not a column.
	Index int `gorm:"-" json:"index"`
}

func (Layer) TableName() string {
	return "layers"
}

// LayerOrder ranks a layer within its project. Indices per project are dense:
// for N layers they form exactly {0..N-1}. Density is maintained in code by
// the transactional reorder/reindex paths rather than a DB unique constraint,
// so mid-transaction shifts never trip a per-statement check.
type LayerOrder struct {
	ProjectID   string `gorm:"primaryKey;size:36" json:"project_id"`
	LayerID     string `gorm:"primaryKey;size:36" json:"layer_id"`
	IndexNumber int    `gorm:"not null;index" json:"index_number"`
}

func (LayerOrder) TableName() string {
	return "layer_order"
}

// Transform is the wire shape for a layer's placement and styling state.
// Flips are represented by negative scale factors; rotation stays pure.
type Transform struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Rotation  float64   `json:"rotation"`
	ScaleX    float64   `json:"scale_x"`
	ScaleY    float64   `json:"scale_y"`
	Opacity   float64   `json:"opacity"`
	BlendMode string    `json:"blend_mode"`
	Crop      *CropRect `json:"crop,omitempty"`
}

// CropRect is an optional crop window on image layers, in layer-local units.
type CropRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextStyle is the style record carried by text layers.
type TextStyle struct {
	FontFamily string      `json:"font_family"`
	FontSize   float64     `json:"font_size"`
	FontWeight string      `json:"font_weight,omitempty"`
	Color      string      `json:"color,omitempty"`
	Background string      `json:"background,omitempty"`
	Align      string      `json:"align,omitempty"`
	Italic     bool        `json:"italic,omitempty"`
	Underline  bool        `json:"underline,omitempty"`
	WrapMode   string      `json:"wrap_mode,omitempty"`
	Stroke     *TextStroke `json:"stroke,omitempty"`
}

// TextStroke is an optional outline on text layers.
type TextStroke struct {
	Width   float64 `json:"width"`
	Color   string  `json:"color"`
	Enabled bool    `json:"enabled"`
}

// MinLayerDimension is the smallest width/height a layer may take; resize
// gestures clamp here to avoid degenerate layers.
const MinLayerDimension = 50.0

// ZIndex derives the stacking value for a layer index. The *10 gap lets
// transient overlays (selection handles, drag ghosts) slot between layers
// without renumbering the stack.
func ZIndex(index int) int {
	return index * 10
}
