package canvas

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

type sessionFixture struct {
	registry *Registry
	layers   *layers.Store
	log      *history.Log
	projects *projects.Store
	project  string
}

func setupSession(t *testing.T) (*sessionFixture, *Session) {
	t.Helper()
	db, err := store.OpenTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&projects.Project{}, &projects.CanvasSettings{},
		&layers.Layer{}, &layers.LayerOrder{}, &history.Action{},
	))

	projectStore := projects.NewStore(db)
	layerStore := layers.NewStore(db)
	actionLog := history.NewLog(db, projectStore, layerStore)
	project, err := projectStore.Create("canvas test")
	require.NoError(t, err)

	f := &sessionFixture{
		registry: NewRegistry(layerStore, actionLog, projectStore),
		layers:   layerStore,
		log:      actionLog,
		projects: projectStore,
		project:  project.ID,
	}
	session, err := f.registry.Open(project.ID)
	require.NoError(t, err)
	return f, session
}

func (f *sessionFixture) addImage(t *testing.T, x, y, w, h float64) *layers.Layer {
	t.Helper()
	layer, err := f.layers.Create(f.project, layers.LayerSpec{
		Type:      layers.TypeImage,
		Transform: layers.Transform{X: x, Y: y, Width: w, Height: h, ScaleX: 1, ScaleY: 1, Opacity: 1},
		AssetID:   "asset-1",
	})
	require.NoError(t, err)
	return layer
}

func (f *sessionFixture) addText(t *testing.T, content string) *layers.Layer {
	t.Helper()
	layer, err := f.layers.Create(f.project, layers.LayerSpec{
		Type:      layers.TypeText,
		Transform: layers.Transform{X: 10, Y: 10, Width: 200, Height: 100, ScaleX: 1, ScaleY: 1, Opacity: 1},
		Content:   &content,
		Style:     &layers.TextStyle{FontFamily: "Arial", FontSize: 24},
	})
	require.NoError(t, err)
	return layer
}

func TestClickSelectsBeforeDragging(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	// First click on an unselected layer selects, no gesture starts.
	s.PointerDown(PointerDownEvent{Screen: Point{X: 150, Y: 150}, LayerID: layer.ID, Target: "layer"})
	state := s.Snapshot()
	assert.Equal(t, layer.ID, state.Selected)
	assert.Equal(t, ModeIdle, state.Mode)

	// Second click begins the drag.
	s.PointerDown(PointerDownEvent{Screen: Point{X: 150, Y: 150}, LayerID: layer.ID, Target: "layer"})
	assert.Equal(t, ModeDragging, s.Snapshot().Mode)
}

func TestDragCommitsOnPointerUp(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 150, Y: 150}, LayerID: layer.ID, Target: "layer"})
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 190, Y: 120}})

	// Shadow moved, store has not.
	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.X)

	shadow := s.Snapshot().Layers[0]
	assert.Equal(t, 140.0, shadow.X)
	assert.Equal(t, 70.0, shadow.Y)
	assert.True(t, shadow.Shadow)

	s.PointerUp()
	stored, err = f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 140.0, stored.X)
	assert.Equal(t, 70.0, stored.Y)

	// One transform action recorded.
	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, layers.ActionUpdateTransform, actions[0].Type)
}

func TestDragRespectsViewportZoom(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.ZoomBy(2.0, Point{})
	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 300, Y: 300}, LayerID: layer.ID, Target: "layer"})
	// 100 screen pixels at 2x zoom is 50 canvas units.
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 400, Y: 300}})
	s.PointerUp()

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, stored.X, 1e-9)
	assert.InDelta(t, 100.0, stored.Y, 1e-9)
}

func TestCleanGestureCommitsNothing(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 150, Y: 150}, LayerID: layer.ID, Target: "layer"})
	s.PointerUp()

	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestPointerCancelDiscardsGesture(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 150, Y: 150}, LayerID: layer.ID, Target: "layer"})
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 500, Y: 500}})
	s.PointerCancel()

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.X)
	assert.Equal(t, ModeIdle, s.Snapshot().Mode)
}

func TestResizeClampsToMinimum(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 300, Y: 250}, LayerID: layer.ID, Handle: "se", Target: "layer"})
	// Drag the corner far past the origin.
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 101, Y: 101}})
	s.PointerUp()

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.Width, layers.MinLayerDimension)
	assert.GreaterOrEqual(t, stored.Height, layers.MinLayerDimension)
}

func TestResizeWestKeepsRightEdgeFixed(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 100, Y: 175}, LayerID: layer.ID, Handle: "w", Target: "layer"})
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 60, Y: 175}})
	s.PointerUp()

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, stored.X+stored.Width, 1e-9)
	assert.InDelta(t, 240.0, stored.Width, 1e-9)
}

func TestNudgeCoalescesRapidRepeats(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	s.Nudge("ArrowRight", false)
	s.Nudge("ArrowRight", false)
	s.Nudge("ArrowRight", false)

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 103.0, stored.X)

	// Three keypresses, one coalesced record.
	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	// A different key starts a fresh record.
	s.Nudge("ArrowDown", false)
	actions, err = f.log.List(f.project)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestNudgeUndoRestoresPreBurstState(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	s.Nudge("ArrowRight", false)
	s.Nudge("ArrowRight", false)

	// One undo reverts the whole burst.
	_, err := f.log.Undo(f.project)
	require.NoError(t, err)
	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.X)
}

func TestNudgeAfterFlipStartsFreshRecord(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	s.Nudge("ArrowRight", false)
	s.FlipHorizontal()
	s.Nudge("ArrowRight", false)

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 102.0, stored.X)
	assert.Equal(t, -1.0, stored.ScaleX)

	// The flip breaks the coalesce chain: three distinct records.
	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	// A full undo/redo round trip reproduces the real final state.
	for i := 0; i < 3; i++ {
		_, err = f.log.Undo(f.project)
		require.NoError(t, err)
	}
	stored, err = f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.X)
	assert.Equal(t, 1.0, stored.ScaleX)

	for i := 0; i < 3; i++ {
		_, err = f.log.Redo(f.project)
		require.NoError(t, err)
	}
	stored, err = f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 102.0, stored.X)
	assert.Equal(t, -1.0, stored.ScaleX)
}

func TestNudgeAfterUndoStartsFreshRecord(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	s.Nudge("ArrowRight", false)
	_, err := f.log.Undo(f.project)
	require.NoError(t, err)
	require.NoError(t, s.Resync())

	// Still inside the coalesce window, but the undone record sits behind
	// the cursor: the keypress prunes it and appends a fresh one.
	s.Nudge("ArrowRight", false)

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 101.0, stored.X)

	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	var before layers.Transform
	require.NoError(t, json.Unmarshal(actions[0].Before, &before))
	assert.Equal(t, 100.0, before.X)

	project, err := f.projects.Get(f.project)
	require.NoError(t, err)
	assert.Equal(t, 0, project.CurrentActionIndex)
}

func TestScaleNudgeKeepsFlipSign(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	s.FlipHorizontal()
	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, -1.0, stored.ScaleX)

	s.Nudge("+", false)
	stored, err = f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.InDelta(t, -1.05, stored.ScaleX, 1e-9)
	assert.InDelta(t, 1.05, stored.ScaleY, 1e-9)
	assert.Less(t, stored.ScaleX, 0.0)
}

func TestOpacityNudgeClamps(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	for i := 0; i < 30; i++ {
		s.Nudge("]", false)
	}
	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored.Opacity)

	for i := 0; i < 30; i++ {
		s.Nudge("[", false)
	}
	stored, err = f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.Opacity)
}

func TestTextEditSuspendsDragAndToolbarBlurIgnored(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addText(t, "hello")
	require.NoError(t, s.Resync())

	s.BeginTextEdit(layer.ID)
	state := s.Snapshot()
	assert.Equal(t, layer.ID, state.Editing)
	assert.Equal(t, layer.ID, state.Selected)

	// Pointer-down on the editing layer neither drags nor reselects.
	s.PointerDown(PointerDownEvent{Screen: Point{X: 20, Y: 20}, LayerID: layer.ID, Target: "layer"})
	assert.Equal(t, ModeIdle, s.Snapshot().Mode)

	// Blur to a toolbar control keeps edit mode.
	s.BlurTextEdit("changed", "toolbar-bold")
	assert.Equal(t, layer.ID, s.Snapshot().Editing)

	// A real blur commits the new content and records an action.
	s.BlurTextEdit("changed", "")
	assert.Empty(t, s.Snapshot().Editing)

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", *stored.Content)

	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, layers.ActionUpdateContent, actions[0].Type)
}

func TestBlurWithoutChangeRecordsNothing(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addText(t, "hello")
	require.NoError(t, s.Resync())

	s.BeginTextEdit(layer.ID)
	s.BlurTextEdit("hello", "")

	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestCanvasResizeClampsBounds(t *testing.T) {
	f, s := setupSession(t)

	s.PointerDown(PointerDownEvent{Target: "canvas-resize", Handle: "se"})
	s.PointerMove(PointerMoveEvent{Screen: Point{X: 99999, Y: 10}})
	s.PointerUp()

	settings, err := f.projects.GetCanvasSettings(f.project)
	require.NoError(t, err)
	assert.Equal(t, projects.MaxCanvasDimension, settings.Width)
	assert.Equal(t, projects.MinCanvasDimension, settings.Height)
}

func TestPanGestureMovesViewport(t *testing.T) {
	f, s := setupSession(t)
	f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.PointerDown(PointerDownEvent{Screen: Point{X: 100, Y: 100}, Target: "pan"})
	assert.Equal(t, ModePanning, s.Snapshot().Mode)

	s.PointerMove(PointerMoveEvent{Screen: Point{X: 150, Y: 130}})
	s.PointerUp()

	vp := s.ViewportValue()
	assert.Equal(t, 50.0, vp.OffsetX)
	assert.Equal(t, 30.0, vp.OffsetY)
	assert.Equal(t, ModeIdle, s.Snapshot().Mode)

	// Panning is view state only, nothing lands in the action log.
	actions, err := f.log.List(f.project)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestEmptyClickClearsSelection(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())

	s.Select(layer.ID)
	s.PointerDown(PointerDownEvent{Screen: Point{X: 900, Y: 900}})
	assert.Empty(t, s.Snapshot().Selected)
}

func TestClosedSessionDropsCommits(t *testing.T) {
	f, s := setupSession(t)
	layer := f.addImage(t, 100, 100, 200, 150)
	require.NoError(t, s.Resync())
	s.Select(layer.ID)

	f.registry.Close(s.ID)
	s.Nudge("ArrowRight", false)

	stored, err := f.layers.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.X)
	assert.Nil(t, f.registry.Get(s.ID))
}
