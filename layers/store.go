package layers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"squish_back/projects"
	"squish_back/store"
)

// Store owns durable layer rows and their per-project stacking order. Every
// ordering-affecting write (create, delete+reindex, reorder) runs in a single
// transaction so a crash mid-operation can never leave duplicate or missing
// indices.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create validates the discriminated layer shape, assigns the next index in
// the project (max+1, 0 when empty) and inserts the layer plus its order row.
func (s *Store) Create(projectID string, spec LayerSpec) (*Layer, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if err := s.projectExists(projectID); err != nil {
		return nil, err
	}

	layer := layerFromSpec(projectID, spec)
	err := store.WithRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			next, err := nextIndex(tx, projectID)
			if err != nil {
				return err
			}
			layer.Index = next
			return insertAt(tx, layer, next)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("layers: create: %w", err)
	}
	return layer, nil
}

// LayerUpdate carries an atomic layer update: transform always applies,
// content/style only to text layers, crop only to image layers.
type LayerUpdate struct {
	Transform *Transform `json:"transform,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Style     *TextStyle `json:"style,omitempty"`
}

// Update applies the supplied fields to a layer in one transaction; fields
// that do not match the layer's type are rejected before any write.
func (s *Store) Update(layerID string, update LayerUpdate) (*Layer, error) {
	layer, err := s.Get(layerID)
	if err != nil {
		return nil, err
	}

	if layer.Type != TypeText && (update.Content != nil || update.Style != nil) {
		return nil, fmt.Errorf("%w: content/style updates require a text layer", store.ErrConstraint)
	}
	if update.Transform != nil {
		if layer.Type != TypeImage && update.Transform.Crop != nil {
			return nil, fmt.Errorf("%w: crop is only valid on image layers", store.ErrConstraint)
		}
		if err := validateTransform(update.Transform); err != nil {
			return nil, err
		}
	}

	err = store.WithRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if update.Transform != nil {
				if err := setTransform(tx, layerID, *update.Transform); err != nil {
					return err
				}
			}
			if update.Content != nil {
				if err := setContent(tx, layerID, *update.Content); err != nil {
					return err
				}
			}
			if update.Style != nil {
				if err := setStyle(tx, layerID, *update.Style); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("layers: update: %w", err)
	}
	return s.Get(layerID)
}

// Delete removes a layer and reindexes the survivors to a dense 0..N-1 range
// ordered by their prior index. The reindex is what maintains the dense-index
// invariant and runs in the same transaction as the delete.
func (s *Store) Delete(layerID string) error {
	layer, err := s.Get(layerID)
	if err != nil {
		return err
	}
	return store.WithRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&LayerOrder{}, "layer_id = ?", layerID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&Layer{}, "id = ?", layerID).Error; err != nil {
				return err
			}
			return reindex(tx, layer.ProjectID)
		})
	})
}

// Reorder moves a layer to the requested index, shifting every layer whose
// index lies strictly between the old and new position by one, all in a
// single transaction.
func (s *Store) Reorder(layerID string, newIndex int) error {
	layer, err := s.Get(layerID)
	if err != nil {
		return err
	}
	return store.WithRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&LayerOrder{}).Where("project_id = ?", layer.ProjectID).Count(&count).Error; err != nil {
				return err
			}
			target := newIndex
			if target < 0 {
				target = 0
			}
			if target > int(count)-1 {
				target = int(count) - 1
			}
			old := layer.Index
			if target == old {
				return nil
			}
			if target > old {
				// Moving up the stack: everyone in (old, target] steps down.
				if err := tx.Model(&LayerOrder{}).
					Where("project_id = ? AND index_number > ? AND index_number <= ?", layer.ProjectID, old, target).
					UpdateColumn("index_number", gorm.Expr("index_number - 1")).Error; err != nil {
					return err
				}
			} else {
				// Moving down the stack: everyone in [target, old) steps up.
				if err := tx.Model(&LayerOrder{}).
					Where("project_id = ? AND index_number >= ? AND index_number < ?", layer.ProjectID, target, old).
					UpdateColumn("index_number", gorm.Expr("index_number + 1")).Error; err != nil {
					return err
				}
			}
			return tx.Model(&LayerOrder{}).
				Where("layer_id = ?", layerID).
				UpdateColumn("index_number", target).Error
		})
	})
}

// List returns the project's layers sorted by index ascending, hydrated with
// their stacking index.
func (s *Store) List(projectID string) ([]Layer, error) {
	var orders []LayerOrder
	if err := s.db.Where("project_id = ?", projectID).Order("index_number asc").Find(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []Layer{}, nil
	}

	ids := make([]string, 0, len(orders))
	indexByID := make(map[string]int, len(orders))
	for _, o := range orders {
		ids = append(ids, o.LayerID)
		indexByID[o.LayerID] = o.IndexNumber
	}

	var rows []Layer
	if err := s.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Index = indexByID[rows[i].ID]
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	return rows, nil
}

// Get fetches one layer with its stacking index hydrated.
func (s *Store) Get(layerID string) (*Layer, error) {
	var layer Layer
	if err := s.db.First(&layer, "id = ?", layerID).Error; err != nil {
		return nil, store.Normalize(err)
	}
	var order LayerOrder
	if err := s.db.First(&order, "layer_id = ?", layerID).Error; err != nil {
		return nil, store.Normalize(err)
	}
	layer.Index = order.IndexNumber
	return &layer, nil
}

// SetOrder rewrites the whole order list for a project in one pass; ids must
// cover exactly the project's layers. Used by reorder undo/redo, where many
// rows change at once.
func (s *Store) SetOrder(tx *gorm.DB, projectID string, ids []string) error {
	if tx == nil {
		tx = s.db
	}
	var count int64
	if err := tx.Model(&LayerOrder{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return fmt.Errorf("%w: order list has %d entries, project has %d layers", store.ErrConstraint, len(ids), count)
	}
	for i, id := range ids {
		res := tx.Model(&LayerOrder{}).
			Where("project_id = ? AND layer_id = ?", projectID, id).
			UpdateColumn("index_number", i)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: layer %s is not part of project %s", store.ErrConstraint, id, projectID)
		}
	}
	return nil
}

func (s *Store) projectExists(projectID string) error {
	var count int64
	if err := s.db.Model(&projects.Project{}).Where("id = ?", projectID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: project %s", store.ErrNotFound, projectID)
	}
	return nil
}

func layerFromSpec(projectID string, spec LayerSpec) *Layer {
	layer := &Layer{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      spec.Type,
		X:         spec.Transform.X,
		Y:         spec.Transform.Y,
		Width:     spec.Transform.Width,
		Height:    spec.Transform.Height,
		Rotation:  spec.Transform.Rotation,
		ScaleX:    spec.Transform.ScaleX,
		ScaleY:    spec.Transform.ScaleY,
		Opacity:   spec.Transform.Opacity,
		BlendMode: spec.Transform.BlendMode,
	}
	if layer.BlendMode == "" {
		layer.BlendMode = "normal"
	}
	if spec.Transform.Crop != nil {
		if raw, err := json.Marshal(spec.Transform.Crop); err == nil {
			layer.Crop = datatypes.JSON(raw)
		}
	}
	switch spec.Type {
	case TypeImage, TypeSticker:
		assetID := strings.TrimSpace(spec.AssetID)
		layer.AssetID = &assetID
	case TypeText:
		layer.Content = spec.Content
		if raw, err := json.Marshal(spec.Style); err == nil {
			layer.Style = datatypes.JSON(raw)
		}
	}
	return layer
}

func nextIndex(tx *gorm.DB, projectID string) (int, error) {
	var max *int
	err := tx.Model(&LayerOrder{}).Where("project_id = ?", projectID).
		Select("MAX(index_number)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max + 1, nil
}

// insertAt writes the layer row and an order row at the given index. Callers
// are responsible for the index being free (fresh tail index, or peers
// already shifted).
func insertAt(tx *gorm.DB, layer *Layer, index int) error {
	if err := tx.Create(layer).Error; err != nil {
		return err
	}
	return tx.Create(&LayerOrder{
		ProjectID:   layer.ProjectID,
		LayerID:     layer.ID,
		IndexNumber: index,
	}).Error
}

// recreateAt restores a previously deleted layer at its recorded index,
// shifting peers at or above that index up by one first.
func recreateAt(tx *gorm.DB, layer *Layer, index int) error {
	if err := tx.Model(&LayerOrder{}).
		Where("project_id = ? AND index_number >= ?", layer.ProjectID, index).
		UpdateColumn("index_number", gorm.Expr("index_number + 1")).Error; err != nil {
		return err
	}
	return insertAt(tx, layer, index)
}

// reindex rewrites a project's order rows to a dense 0..N-1 range preserving
// the relative order of the survivors.
func reindex(tx *gorm.DB, projectID string) error {
	var orders []LayerOrder
	if err := tx.Where("project_id = ?", projectID).Order("index_number asc").Find(&orders).Error; err != nil {
		return err
	}
	for i, o := range orders {
		if o.IndexNumber == i {
			continue
		}
		if err := tx.Model(&LayerOrder{}).
			Where("project_id = ? AND layer_id = ?", projectID, o.LayerID).
			UpdateColumn("index_number", i).Error; err != nil {
			return err
		}
	}
	return nil
}

func setTransform(tx *gorm.DB, layerID string, t Transform) error {
	updates := map[string]any{
		"x":          t.X,
		"y":          t.Y,
		"width":      t.Width,
		"height":     t.Height,
		"rotation":   t.Rotation,
		"scale_x":    t.ScaleX,
		"scale_y":    t.ScaleY,
		"opacity":    t.Opacity,
		"blend_mode": t.BlendMode,
	}
	if t.Crop != nil {
		raw, err := json.Marshal(t.Crop)
		if err != nil {
			return err
		}
		updates["crop"] = datatypes.JSON(raw)
	} else {
		updates["crop"] = nil
	}
	return tx.Model(&Layer{}).Where("id = ?", layerID).Updates(updates).Error
}

func setContent(tx *gorm.DB, layerID, content string) error {
	return tx.Model(&Layer{}).Where("id = ?", layerID).Update("content", content).Error
}

func setStyle(tx *gorm.DB, layerID string, style TextStyle) error {
	raw, err := json.Marshal(style)
	if err != nil {
		return err
	}
	return tx.Model(&Layer{}).Where("id = ?", layerID).
		Update("style", datatypes.JSON(raw)).Error
}
