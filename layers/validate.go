package layers

import (
	"encoding/json"
	"fmt"
	"strings"

	"squish_back/store"
)

// LayerSpec is the client-supplied shape for creating a layer. Type-specific
// fields are validated against the discriminator before any write.
type LayerSpec struct {
	Type      string     `json:"type"`
	Transform Transform  `json:"transform"`
	AssetID   string     `json:"asset_id,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Style     *TextStyle `json:"style,omitempty"`
}

func (spec *LayerSpec) validate() error {
	switch spec.Type {
	case TypeImage, TypeSticker:
		if strings.TrimSpace(spec.AssetID) == "" {
			return fmt.Errorf("%w: %s layer requires asset_id", store.ErrValidation, spec.Type)
		}
		if spec.Content != nil || spec.Style != nil {
			return fmt.Errorf("%w: %s layer must not carry text fields", store.ErrValidation, spec.Type)
		}
		if spec.Type == TypeSticker && spec.Transform.Crop != nil {
			return fmt.Errorf("%w: crop is only valid on image layers", store.ErrValidation)
		}
	case TypeText:
		if spec.Content == nil {
			return fmt.Errorf("%w: text layer requires content", store.ErrValidation)
		}
		if spec.Style == nil {
			return fmt.Errorf("%w: text layer requires style", store.ErrValidation)
		}
		if strings.TrimSpace(spec.AssetID) != "" {
			return fmt.Errorf("%w: text layer must not reference an asset", store.ErrValidation)
		}
		if spec.Transform.Crop != nil {
			return fmt.Errorf("%w: crop is only valid on image layers", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown layer type %q", store.ErrValidation, spec.Type)
	}
	return validateTransform(&spec.Transform)
}

func validateTransform(t *Transform) error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: layer size must be positive", store.ErrValidation)
	}
	if t.Opacity < 0 || t.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be within [0,1]", store.ErrValidation)
	}
	if t.ScaleX == 0 || t.ScaleY == 0 {
		return fmt.Errorf("%w: scale factors must be non-zero", store.ErrValidation)
	}
	return nil
}

// Transform assembles the wire transform from the stored columns.
func (l *Layer) TransformValue() Transform {
	t := Transform{
		X:         l.X,
		Y:         l.Y,
		Width:     l.Width,
		Height:    l.Height,
		Rotation:  l.Rotation,
		ScaleX:    l.ScaleX,
		ScaleY:    l.ScaleY,
		Opacity:   l.Opacity,
		BlendMode: l.BlendMode,
	}
	if len(l.Crop) > 0 && string(l.Crop) != "null" {
		var crop CropRect
		if err := json.Unmarshal(l.Crop, &crop); err == nil {
			t.Crop = &crop
		}
	}
	return t
}

// StyleValue decodes the stored style JSON, nil for non-text layers.
func (l *Layer) StyleValue() *TextStyle {
	if len(l.Style) == 0 || string(l.Style) == "null" {
		return nil
	}
	var style TextStyle
	if err := json.Unmarshal(l.Style, &style); err != nil {
		return nil
	}
	return &style
}
