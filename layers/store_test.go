package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"squish_back/projects"
	"squish_back/store"
)

func setupLayerStore(t *testing.T) (*Store, *gorm.DB, string) {
	t.Helper()
	db, err := store.OpenTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&projects.Project{}, &projects.CanvasSettings{}, &Layer{}, &LayerOrder{}))

	project, err := projects.NewStore(db).Create("test project")
	require.NoError(t, err)

	return NewStore(db), db, project.ID
}

func textSpec(content string) LayerSpec {
	return LayerSpec{
		Type:      TypeText,
		Transform: Transform{Width: 200, Height: 100, ScaleX: 1, ScaleY: 1, Opacity: 1},
		Content:   &content,
		Style:     &TextStyle{FontFamily: "Arial", FontSize: 24},
	}
}

func imageSpec(assetID string) LayerSpec {
	return LayerSpec{
		Type:      TypeImage,
		Transform: Transform{Width: 400, Height: 300, ScaleX: 1, ScaleY: 1, Opacity: 1},
		AssetID:   assetID,
	}
}

func assertDenseIndices(t *testing.T, s *Store, projectID string) {
	t.Helper()
	list, err := s.List(projectID)
	require.NoError(t, err)
	for i, layer := range list {
		assert.Equal(t, i, layer.Index, "layer %s has index %d at position %d", layer.ID, layer.Index, i)
	}
}

func TestCreateAssignsDenseIndices(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	first, err := s.Create(projectID, imageSpec("asset-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)

	second, err := s.Create(projectID, textSpec("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)

	third, err := s.Create(projectID, imageSpec("asset-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, third.Index)

	assertDenseIndices(t, s, projectID)
}

func TestCreateUnknownProject(t *testing.T) {
	s, _, _ := setupLayerStore(t)
	_, err := s.Create("no-such-project", imageSpec("asset-1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateValidatesVariantFields(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	// Image without asset.
	spec := imageSpec("")
	_, err := s.Create(projectID, spec)
	assert.ErrorIs(t, err, store.ErrValidation)

	// Text carrying an asset reference.
	bad := textSpec("hi")
	bad.AssetID = "asset-1"
	_, err = s.Create(projectID, bad)
	assert.ErrorIs(t, err, store.ErrValidation)

	// Sticker with a crop.
	sticker := LayerSpec{
		Type:      TypeSticker,
		Transform: Transform{Width: 100, Height: 100, ScaleX: 1, ScaleY: 1, Opacity: 1, Crop: &CropRect{Width: 10, Height: 10}},
		AssetID:   "asset-1",
	}
	_, err = s.Create(projectID, sticker)
	assert.ErrorIs(t, err, store.ErrValidation)

	// Opacity out of range.
	dim := imageSpec("asset-1")
	dim.Transform.Opacity = 1.5
	_, err = s.Create(projectID, dim)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestReorderShiftsNeighbours(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		layer, err := s.Create(projectID, imageSpec("asset"))
		require.NoError(t, err)
		ids = append(ids, layer.ID)
	}

	// Move the bottom layer to the top.
	require.NoError(t, s.Reorder(ids[0], 3))
	list, err := s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[2], ids[3], ids[0]}, orderedIDs(list))
	assertDenseIndices(t, s, projectID)

	// And back down.
	require.NoError(t, s.Reorder(ids[0], 0))
	list, err = s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, ids, orderedIDs(list))
	assertDenseIndices(t, s, projectID)
}

func TestReorderClampsTarget(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	a, err := s.Create(projectID, imageSpec("asset"))
	require.NoError(t, err)
	b, err := s.Create(projectID, imageSpec("asset"))
	require.NoError(t, err)

	// Far beyond the end clamps to the last slot.
	require.NoError(t, s.Reorder(a.ID, 99))
	list, err := s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, orderedIDs(list))

	// Negative clamps to zero.
	require.NoError(t, s.Reorder(a.ID, -5))
	list, err = s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, orderedIDs(list))
	assertDenseIndices(t, s, projectID)
}

func TestDeleteReindexes(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		layer, err := s.Create(projectID, imageSpec("asset"))
		require.NoError(t, err)
		ids = append(ids, layer.ID)
	}

	require.NoError(t, s.Delete(ids[1]))

	list, err := s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, orderedIDs(list))
	assertDenseIndices(t, s, projectID)

	_, err = s.Get(ids[1])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRejectsMismatchedFields(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	img, err := s.Create(projectID, imageSpec("asset"))
	require.NoError(t, err)

	content := "nope"
	_, err = s.Update(img.ID, LayerUpdate{Content: &content})
	assert.ErrorIs(t, err, store.ErrConstraint)

	txt, err := s.Create(projectID, textSpec("hello"))
	require.NoError(t, err)

	_, err = s.Update(txt.ID, LayerUpdate{Transform: &Transform{
		Width: 100, Height: 100, ScaleX: 1, ScaleY: 1, Opacity: 1, Crop: &CropRect{Width: 5, Height: 5},
	}})
	assert.ErrorIs(t, err, store.ErrConstraint)
}

func TestUpdateTransformAndContent(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	txt, err := s.Create(projectID, textSpec("hello"))
	require.NoError(t, err)

	content := "edited"
	updated, err := s.Update(txt.ID, LayerUpdate{
		Transform: &Transform{X: 10, Y: 20, Width: 300, Height: 150, Rotation: 45, ScaleX: -1, ScaleY: 1, Opacity: 0.5, BlendMode: "normal"},
		Content:   &content,
	})
	require.NoError(t, err)

	assert.Equal(t, "edited", *updated.Content)
	assert.Equal(t, 45.0, updated.Rotation)
	assert.Equal(t, -1.0, updated.ScaleX)
	assert.Equal(t, 0.5, updated.Opacity)
	// Index survives value updates.
	assert.Equal(t, txt.Index, updated.Index)
}

func TestSetOrderRewritesWholeStack(t *testing.T) {
	s, _, projectID := setupLayerStore(t)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		layer, err := s.Create(projectID, imageSpec("asset"))
		require.NoError(t, err)
		ids = append(ids, layer.ID)
	}

	reversed := []string{ids[2], ids[1], ids[0]}
	require.NoError(t, s.SetOrder(nil, projectID, reversed))

	list, err := s.List(projectID)
	require.NoError(t, err)
	assert.Equal(t, reversed, orderedIDs(list))
	assertDenseIndices(t, s, projectID)

	// Wrong cardinality is rejected.
	err = s.SetOrder(nil, projectID, ids[:2])
	assert.Error(t, err)
}

func TestZIndexLeavesOverlayGaps(t *testing.T) {
	assert.Equal(t, 0, ZIndex(0))
	assert.Equal(t, 10, ZIndex(1))
	assert.Equal(t, 70, ZIndex(7))
}

func orderedIDs(list []Layer) []string {
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	return ids
}
