package canvas

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"squish_back/history"
	"squish_back/layers"
	"squish_back/projects"
)

// Mode is the interaction state of a session. Gestures are exclusive: a
// session is in at most one non-idle mode at a time.
type Mode string

const (
	ModeIdle           Mode = "idle"
	ModeDragging       Mode = "dragging"
	ModeResizing       Mode = "resizing"
	ModeCanvasResizing Mode = "canvas-resizing"
	ModePanning        Mode = "panning"
)

// nudgeCoalesceWindow collapses rapid keyboard nudges on the same layer and
// field into a single action record.
const nudgeCoalesceWindow = 300 * time.Millisecond

// Session is the in-memory editing surface for one open project: the layer
// stack model the UI renders from, the pan/zoom viewport, and the gesture
// state machines. The persistent store stays the source of truth; the stack
// here is a cache invalidated by re-fetch after every committed write.
type Session struct {
	ID        string
	ProjectID string

	mu       sync.Mutex
	layers   *layers.Store
	log      *history.Log
	projects *projects.Store

	stack    []layers.Layer
	settings *projects.CanvasSettings
	viewport Viewport

	mode     Mode
	selected string
	gesture  *gesture
	editing  string // layer id in text-edit mode, "" when none

	lastNudge nudgeState
	notices   []string
	closed    bool
}

type nudgeState struct {
	layerID  string
	key      string
	actionID uint64
	at       time.Time
}

// gesture is the pending-edit buffer for an in-progress direct manipulation:
// the committed state stays in the store, the shadow mutates locally, and the
// dirty flag decides whether pointer-up commits anything.
type gesture struct {
	layerID    string
	layerType  string
	handle     string
	grabOffset Point
	lastScreen Point // panning only
	start      layers.Transform
	shadow     layers.Transform
	dirty      bool

	// canvas-resize gesture only
	canvasStartW float64
	canvasStartH float64
	canvasW      float64
	canvasH      float64
}

// Registry tracks open sessions by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	layers   *layers.Store
	log      *history.Log
	projects *projects.Store
}

func NewRegistry(layerStore *layers.Store, actionLog *history.Log, projectStore *projects.Store) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		layers:   layerStore,
		log:      actionLog,
		projects: projectStore,
	}
}

// Open loads a project into a fresh session.
func (r *Registry) Open(projectID string) (*Session, error) {
	if _, err := r.projects.Get(projectID); err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		layers:    r.layers,
		log:       r.log,
		projects:  r.projects,
		viewport:  NewViewport(),
		mode:      ModeIdle,
	}
	if err := s.resyncLocked(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns an open session or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Close tears a session down. In-flight results for a closed session are
// dropped by the stale guard in apply paths.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		s.closed = true
		s.gesture = nil
		s.mode = ModeIdle
		s.mu.Unlock()
	}
}

// Resync refreshes the layer stack and settings from the store. External
// history moves (undo/redo over HTTP) land here, so any pending nudge
// coalescing is abandoned too.
func (s *Session) Resync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNudge = nudgeState{}
	return s.resyncLocked()
}

func (s *Session) resyncLocked() error {
	stack, err := s.layers.List(s.ProjectID)
	if err != nil {
		return fmt.Errorf("canvas: resync layers: %w", err)
	}
	settings, err := s.projects.GetCanvasSettings(s.ProjectID)
	if err != nil {
		return fmt.Errorf("canvas: resync settings: %w", err)
	}
	s.stack = stack
	s.settings = settings
	return nil
}

// State is the frame pushed to the client after every event.
type State struct {
	SessionID string                   `json:"session_id"`
	ProjectID string                   `json:"project_id"`
	Layers    []StackLayer             `json:"layers"`
	Viewport  Viewport                 `json:"viewport"`
	Canvas    *projects.CanvasSettings `json:"canvas"`
	Mode      Mode                     `json:"mode"`
	Selected  string                   `json:"selected,omitempty"`
	Editing   string                   `json:"editing,omitempty"`
	Notices   []string                 `json:"notices,omitempty"`
}

// StackLayer is one renderable entry: the persisted layer with the shadow
// transform overlaid while a gesture is in flight, plus the derived z value.
type StackLayer struct {
	layers.Layer
	ZIndex int  `json:"z_index"`
	Shadow bool `json:"shadow,omitempty"`
}

// Snapshot assembles the current frame, draining pending notices.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StackLayer, 0, len(s.stack))
	for _, l := range s.stack {
		entry := StackLayer{Layer: l, ZIndex: layers.ZIndex(l.Index)}
		if s.gesture != nil && s.gesture.layerID == l.ID && (s.mode == ModeDragging || s.mode == ModeResizing) {
			entry.Layer = overlayTransform(l, s.gesture.shadow)
			entry.Shadow = s.gesture.dirty
		}
		out = append(out, entry)
	}

	notices := s.notices
	s.notices = nil

	return State{
		SessionID: s.ID,
		ProjectID: s.ProjectID,
		Layers:    out,
		Viewport:  s.viewport,
		Canvas:    s.settings,
		Mode:      s.mode,
		Selected:  s.selected,
		Editing:   s.editing,
		Notices:   notices,
	}
}

func overlayTransform(l layers.Layer, t layers.Transform) layers.Layer {
	l.X = t.X
	l.Y = t.Y
	l.Width = t.Width
	l.Height = t.Height
	l.Rotation = t.Rotation
	l.ScaleX = t.ScaleX
	l.ScaleY = t.ScaleY
	l.Opacity = t.Opacity
	l.BlendMode = t.BlendMode
	return l
}

// Select marks a layer as selected; selection is cleared by an empty id.
func (s *Session) Select(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return
	}
	s.selected = layerID
}

// ZoomBy applies an anchored zoom step at the given screen point.
func (s *Session) ZoomBy(factor float64, anchor Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = s.viewport.ZoomAt(factor, anchor)
}

// PanBy shifts the viewport by a screen-space delta.
func (s *Session) PanBy(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = s.viewport.Pan(dx, dy)
}

// Viewport returns the current viewport value.
func (s *Session) ViewportValue() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Session) notify(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("canvas: %s", msg)
	s.notices = append(s.notices, msg)
}

// commitTransform persists a final gesture transform and records the paired
// action. On failure the stack keeps the shadow state visually and a notice
// plus a store re-fetch restore consistency, never a hard failure.
func (s *Session) commitTransform(layerID string, before, after layers.Transform) (actionDBID uint64) {
	if s.closed {
		return 0
	}
	// Any recorded transform supersedes a pending nudge coalesce.
	s.lastNudge = nudgeState{}
	projectID := s.ProjectID

	if _, err := s.layers.Update(layerID, layers.LayerUpdate{Transform: &after}); err != nil {
		s.notify("layer update failed: %v", err)
		s.resyncBestEffort()
		return 0
	}

	b, err := json.Marshal(before)
	if err == nil {
		var a []byte
		a, err = json.Marshal(after)
		if err == nil {
			var action *history.Action
			action, err = s.log.Record(projectID, layers.ActionUpdateTransform, layerID, b, a)
			if err == nil {
				actionDBID = action.ID
			}
		}
	}
	if err != nil {
		s.notify("action record failed: %v", err)
	}

	_ = s.projects.Touch(projectID)
	s.resyncBestEffort()
	return actionDBID
}

func (s *Session) resyncBestEffort() {
	if err := s.resyncLocked(); err != nil {
		s.notify("resync failed: %v", err)
	}
}

func (s *Session) findLayer(layerID string) *layers.Layer {
	for i := range s.stack {
		if s.stack[i].ID == layerID {
			return &s.stack[i]
		}
	}
	return nil
}
