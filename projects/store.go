package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"squish_back/store"
)

// Store owns durable project and canvas-settings state.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts an empty project: no layers, cursor at -1.
func (s *Store) Create(name string) (*Project, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: project name is required", store.ErrValidation)
	}

	project := Project{
		ID:                 uuid.NewString(),
		Name:               trimmed,
		CurrentActionIndex: -1,
	}
	if err := store.WithRetry(func() error {
		return s.db.Create(&project).Error
	}); err != nil {
		return nil, fmt.Errorf("projects: create: %w", err)
	}
	return &project, nil
}

// Get fetches one project by id.
func (s *Store) Get(id string) (*Project, error) {
	var project Project
	if err := s.db.First(&project, "id = ?", id).Error; err != nil {
		return nil, store.Normalize(err)
	}
	return &project, nil
}

// List returns all projects, most recently touched first.
func (s *Store) List() ([]Project, error) {
	var result []Project
	if err := s.db.Order("updated_at desc").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// Rename updates the project name.
func (s *Store) Rename(id, name string) (*Project, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: project name is required", store.ErrValidation)
	}
	project, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := store.WithRetry(func() error {
		return s.db.Model(project).Update("name", trimmed).Error
	}); err != nil {
		return nil, fmt.Errorf("projects: rename: %w", err)
	}
	project.Name = trimmed
	return project, nil
}

// Touch bumps updated_at, used after layer mutations so List ordering tracks
// recent activity.
func (s *Store) Touch(id string) error {
	return s.db.Model(&Project{}).Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// Cursor reads the undo/redo cursor, inside tx when one is given. The action
// log reads it through its own transaction so the cursor it prunes and steps
// against is never stale.
func (s *Store) Cursor(tx *gorm.DB, id string) (int, error) {
	if tx == nil {
		tx = s.db
	}
	var project Project
	if err := tx.Select("current_action_index").First(&project, "id = ?", id).Error; err != nil {
		return 0, store.Normalize(err)
	}
	return project.CurrentActionIndex, nil
}

// SetCursor moves the undo/redo cursor for a project.
func (s *Store) SetCursor(tx *gorm.DB, id string, cursor int) error {
	if tx == nil {
		tx = s.db
	}
	return tx.Model(&Project{}).Where("id = ?", id).
		Update("current_action_index", cursor).Error
}

// Delete removes a project and everything scoped to it: layers, layer order,
// actions and canvas settings. Assets are shared across projects and are left
// alone. The child tables are addressed by name so the base package stays
// import-free; the layer and history packages migrate them.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return store.WithRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			for _, table := range []string{"layer_order", "layers", "actions", "canvas_settings"} {
				if err := tx.Exec("DELETE FROM "+table+" WHERE project_id = ?", id).Error; err != nil {
					return fmt.Errorf("projects: cascade %s: %w", table, err)
				}
			}
			return tx.Delete(&Project{}, "id = ?", id).Error
		})
	})
}

// GetCanvasSettings returns the canvas settings for a project, creating the
// default 1920x1080 / background-none row on first read.
func (s *Store) GetCanvasSettings(projectID string) (*CanvasSettings, error) {
	if _, err := s.Get(projectID); err != nil {
		return nil, err
	}

	var settings CanvasSettings
	err := s.db.First(&settings, "project_id = ?", projectID).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	settings = CanvasSettings{
		ProjectID:  projectID,
		Width:      DefaultCanvasWidth,
		Height:     DefaultCanvasHeight,
		Background: datatypes.JSON(`{"type":"none"}`),
	}
	if err := store.WithRetry(func() error {
		return s.db.Create(&settings).Error
	}); err != nil {
		return nil, fmt.Errorf("projects: init canvas settings: %w", err)
	}
	return &settings, nil
}

// CanvasSettingsPatch carries a partial canvas-settings update; nil fields are
// left untouched.
type CanvasSettingsPatch struct {
	Width      *int                  `json:"width,omitempty"`
	Height     *int                  `json:"height,omitempty"`
	Background *BackgroundDescriptor `json:"background,omitempty"`
}

// UpdateCanvasSettings applies a partial update, initialising defaults first
// if the project has never been configured.
func (s *Store) UpdateCanvasSettings(projectID string, patch CanvasSettingsPatch) (*CanvasSettings, error) {
	settings, err := s.GetCanvasSettings(projectID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if patch.Width != nil {
		if *patch.Width < MinCanvasDimension || *patch.Width > MaxCanvasDimension {
			return nil, fmt.Errorf("%w: canvas width must be within [%d,%d]", store.ErrValidation, MinCanvasDimension, MaxCanvasDimension)
		}
		updates["width"] = *patch.Width
	}
	if patch.Height != nil {
		if *patch.Height < MinCanvasDimension || *patch.Height > MaxCanvasDimension {
			return nil, fmt.Errorf("%w: canvas height must be within [%d,%d]", store.ErrValidation, MinCanvasDimension, MaxCanvasDimension)
		}
		updates["height"] = *patch.Height
	}
	if patch.Background != nil {
		if err := validateBackground(patch.Background); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(patch.Background)
		if err != nil {
			return nil, fmt.Errorf("projects: encode background: %w", err)
		}
		updates["background"] = datatypes.JSON(raw)
	}
	if len(updates) == 0 {
		return settings, nil
	}

	if err := store.WithRetry(func() error {
		return s.db.Model(&CanvasSettings{}).Where("project_id = ?", projectID).Updates(updates).Error
	}); err != nil {
		return nil, fmt.Errorf("projects: update canvas settings: %w", err)
	}

	var fresh CanvasSettings
	if err := s.db.First(&fresh, "project_id = ?", projectID).Error; err != nil {
		return nil, store.Normalize(err)
	}
	return &fresh, nil
}

func validateBackground(bg *BackgroundDescriptor) error {
	switch bg.Type {
	case BackgroundNone:
		return nil
	case BackgroundColor:
		if strings.TrimSpace(bg.Value) == "" {
			return fmt.Errorf("%w: color background requires a value", store.ErrValidation)
		}
		return nil
	case BackgroundImage:
		if strings.TrimSpace(bg.AssetID) == "" {
			return fmt.Errorf("%w: image background requires an asset_id", store.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown background type %q", store.ErrValidation, bg.Type)
	}
}
