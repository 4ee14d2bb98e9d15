package layers

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"squish_back/store"
)

// Action types recorded by the history log. The snapshot payload shape is
// keyed by the type: full layer records for add/remove, a transform, a style
// record, a content wrapper, or a full ordered id list.
const (
	ActionAddLayer        = "add_layer"
	ActionRemoveLayer     = "remove_layer"
	ActionUpdateTransform = "update_transform"
	ActionUpdateStyle     = "update_style"
	ActionUpdateContent   = "update_content"
	ActionReorderLayers   = "reorder_layers"
)

// ContentSnapshot wraps a text layer's content string for action payloads.
type ContentSnapshot struct {
	Content string `json:"content"`
}

// Apply drives the layer store toward the state described by an action
// snapshot. The history log calls this for both undo (before snapshot) and
// redo (after snapshot); an empty snapshot on add/remove means "the layer
// does not exist".
func (s *Store) Apply(tx *gorm.DB, projectID, actionType, layerID string, snapshot []byte) error {
	if tx == nil {
		tx = s.db
	}
	switch actionType {
	case ActionAddLayer, ActionRemoveLayer:
		if emptySnapshot(snapshot) {
			return removeForReplay(tx, projectID, layerID)
		}
		var layer Layer
		if err := json.Unmarshal(snapshot, &layer); err != nil {
			return fmt.Errorf("%w: decode layer snapshot: %v", store.ErrValidation, err)
		}
		layer.ProjectID = projectID
		return recreateAt(tx, &layer, layer.Index)
	case ActionUpdateTransform:
		var t Transform
		if err := json.Unmarshal(snapshot, &t); err != nil {
			return fmt.Errorf("%w: decode transform snapshot: %v", store.ErrValidation, err)
		}
		return setTransform(tx, layerID, t)
	case ActionUpdateStyle:
		var style TextStyle
		if err := json.Unmarshal(snapshot, &style); err != nil {
			return fmt.Errorf("%w: decode style snapshot: %v", store.ErrValidation, err)
		}
		return setStyle(tx, layerID, style)
	case ActionUpdateContent:
		var content ContentSnapshot
		if err := json.Unmarshal(snapshot, &content); err != nil {
			return fmt.Errorf("%w: decode content snapshot: %v", store.ErrValidation, err)
		}
		return setContent(tx, layerID, content.Content)
	case ActionReorderLayers:
		var ids []string
		if err := json.Unmarshal(snapshot, &ids); err != nil {
			return fmt.Errorf("%w: decode order snapshot: %v", store.ErrValidation, err)
		}
		return s.SetOrder(tx, projectID, ids)
	default:
		return fmt.Errorf("%w: unknown action type %q", store.ErrValidation, actionType)
	}
}

func removeForReplay(tx *gorm.DB, projectID, layerID string) error {
	if err := tx.Delete(&LayerOrder{}, "layer_id = ?", layerID).Error; err != nil {
		return err
	}
	if err := tx.Delete(&Layer{}, "id = ?", layerID).Error; err != nil {
		return err
	}
	return reindex(tx, projectID)
}

func emptySnapshot(snapshot []byte) bool {
	return len(snapshot) == 0 || string(snapshot) == "null"
}
