package projects_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squish_back/history"
	"squish_back/layers"
	"squish_back/projects"
	"squish_back/store"
)

func setupProjectStore(t *testing.T) (*projects.Store, *layers.Store) {
	t.Helper()
	db, err := store.OpenTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&projects.Project{}, &projects.CanvasSettings{},
		&layers.Layer{}, &layers.LayerOrder{}, &history.Action{},
	))
	return projects.NewStore(db), layers.NewStore(db)
}

func TestCreateStartsWithEmptyHistory(t *testing.T) {
	s, _ := setupProjectStore(t)

	project, err := s.Create("my meme")
	require.NoError(t, err)
	assert.Equal(t, "my meme", project.Name)
	assert.Equal(t, -1, project.CurrentActionIndex)
	assert.NotEmpty(t, project.ID)
}

func TestGetUnknownProject(t *testing.T) {
	s, _ := setupProjectStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRename(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("before")
	require.NoError(t, err)

	renamed, err := s.Rename(project.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", renamed.Name)

	_, err = s.Rename(project.ID, "   ")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCanvasSettingsDefaultsOnFirstRead(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("defaults")
	require.NoError(t, err)

	settings, err := s.GetCanvasSettings(project.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.DefaultCanvasWidth, settings.Width)
	assert.Equal(t, projects.DefaultCanvasHeight, settings.Height)

	var bg projects.BackgroundDescriptor
	require.NoError(t, json.Unmarshal(settings.Background, &bg))
	assert.Equal(t, projects.BackgroundNone, bg.Type)

	// Second read returns the same row, not a fresh default.
	again, err := s.GetCanvasSettings(project.ID)
	require.NoError(t, err)
	assert.Equal(t, settings.ProjectID, again.ProjectID)
}

func TestCanvasSettingsPartialUpdate(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("patch")
	require.NoError(t, err)

	width := 800
	updated, err := s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Width: &width})
	require.NoError(t, err)
	assert.Equal(t, 800, updated.Width)
	// Omitted height keeps the default.
	assert.Equal(t, projects.DefaultCanvasHeight, updated.Height)

	bg := projects.BackgroundDescriptor{Type: projects.BackgroundColor, Value: "#336699"}
	updated, err = s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Background: &bg})
	require.NoError(t, err)
	assert.Equal(t, 800, updated.Width)

	var decoded projects.BackgroundDescriptor
	require.NoError(t, json.Unmarshal(updated.Background, &decoded))
	assert.Equal(t, "#336699", decoded.Value)
}

func TestCanvasSettingsRejectsOutOfBounds(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("bounds")
	require.NoError(t, err)

	small := projects.MinCanvasDimension - 1
	_, err = s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Width: &small})
	assert.ErrorIs(t, err, store.ErrValidation)

	big := projects.MaxCanvasDimension + 1
	_, err = s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Height: &big})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCanvasSettingsRejectsBadBackground(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("bg")
	require.NoError(t, err)

	bg := projects.BackgroundDescriptor{Type: "gradient"}
	_, err = s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Background: &bg})
	assert.ErrorIs(t, err, store.ErrValidation)

	empty := projects.BackgroundDescriptor{Type: projects.BackgroundImage}
	_, err = s.UpdateCanvasSettings(project.ID, projects.CanvasSettingsPatch{Background: &empty})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestDeleteCascadesScopedState(t *testing.T) {
	s, layerStore := setupProjectStore(t)
	project, err := s.Create("doomed")
	require.NoError(t, err)
	_, err = s.GetCanvasSettings(project.ID)
	require.NoError(t, err)

	layer, err := layerStore.Create(project.ID, layers.LayerSpec{
		Type:      layers.TypeImage,
		Transform: layers.Transform{Width: 100, Height: 100, ScaleX: 1, ScaleY: 1, Opacity: 1},
		AssetID:   "asset-1",
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(project.ID))

	_, err = s.Get(project.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = layerStore.Get(layer.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetCursor(t *testing.T) {
	s, _ := setupProjectStore(t)
	project, err := s.Create("cursor")
	require.NoError(t, err)

	require.NoError(t, s.SetCursor(nil, project.ID, 4))
	got, err := s.Get(project.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentActionIndex)
}
