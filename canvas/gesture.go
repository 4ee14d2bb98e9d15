package canvas

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"squish_back/history"
	"squish_back/layers"
	"squish_back/projects"
)

// Keyboard nudge steps.
const (
	nudgeMoveStep     = 1.0
	nudgeRotationStep = 1.0
	nudgeScaleStep    = 0.05
	nudgeOpacityStep  = 0.05
)

// PointerDownEvent describes a mouse-down on the canvas surface. The client
// performs hit testing and reports what was grabbed: a layer body, a resize
// handle (n/s/e/w/ne/nw/se/sw), the canvas resize edge, or empty space.
type PointerDownEvent struct {
	Screen  Point  `json:"screen"`
	LayerID string `json:"layer_id,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Target  string `json:"target,omitempty"` // "layer" | "canvas-resize" | ""
}

// PointerDown starts a gesture. A click on an unselected layer only selects
// it; dragging requires the layer to already be selected and not in text-edit
// mode.
func (s *Session) PointerDown(ev PointerDownEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle || s.closed {
		return
	}

	if ev.Target == "pan" {
		s.mode = ModePanning
		s.gesture = &gesture{lastScreen: ev.Screen}
		return
	}

	if ev.Target == "canvas-resize" {
		if s.settings == nil {
			return
		}
		s.mode = ModeCanvasResizing
		s.gesture = &gesture{
			handle:       ev.Handle,
			canvasStartW: float64(s.settings.Width),
			canvasStartH: float64(s.settings.Height),
			canvasW:      float64(s.settings.Width),
			canvasH:      float64(s.settings.Height),
		}
		return
	}

	if ev.LayerID == "" {
		s.selected = ""
		return
	}
	if s.editing == ev.LayerID {
		// Edit mode suspends drag and selection-click handling for the layer.
		return
	}

	layer := s.findLayer(ev.LayerID)
	if layer == nil {
		return
	}

	if ev.Handle != "" && ev.LayerID == s.selected {
		s.mode = ModeResizing
		start := layer.TransformValue()
		s.gesture = &gesture{
			layerID:   layer.ID,
			layerType: layer.Type,
			handle:    ev.Handle,
			start:     start,
			shadow:    start,
		}
		return
	}

	if ev.LayerID != s.selected {
		s.selected = ev.LayerID
		return
	}

	canvasPoint := s.viewport.ToCanvas(ev.Screen)
	start := layer.TransformValue()
	s.mode = ModeDragging
	s.gesture = &gesture{
		layerID:    layer.ID,
		layerType:  layer.Type,
		grabOffset: Point{X: canvasPoint.X - start.X, Y: canvasPoint.Y - start.Y},
		start:      start,
		shadow:     start,
	}
}

// PointerMoveEvent carries a mouse-move; Modifier mirrors whether the aspect
// override key is held.
type PointerMoveEvent struct {
	Screen   Point `json:"screen"`
	Modifier bool  `json:"modifier,omitempty"`
}

// PointerMove advances the active gesture, mutating only the local shadow
// state. Nothing is persisted until pointer-up.
func (s *Session) PointerMove(ev PointerMoveEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return
	}
	canvasPoint := s.viewport.ToCanvas(ev.Screen)

	switch s.mode {
	case ModeDragging:
		s.gesture.shadow.X = canvasPoint.X - s.gesture.grabOffset.X
		s.gesture.shadow.Y = canvasPoint.Y - s.gesture.grabOffset.Y
		s.gesture.dirty = true
	case ModeResizing:
		preserve := s.gesture.layerType != layers.TypeText || ev.Modifier
		s.gesture.shadow = resizeTransform(s.gesture.start, s.gesture.handle, canvasPoint, preserve)
		s.gesture.dirty = true
	case ModePanning:
		s.viewport = s.viewport.Pan(ev.Screen.X-s.gesture.lastScreen.X, ev.Screen.Y-s.gesture.lastScreen.Y)
		s.gesture.lastScreen = ev.Screen
	case ModeCanvasResizing:
		g := s.gesture
		w, h := g.canvasStartW, g.canvasStartH
		if strings.Contains(g.handle, "e") {
			w = canvasPoint.X
		}
		if strings.Contains(g.handle, "s") {
			h = canvasPoint.Y
		}
		g.canvasW = clampF(w, projects.MinCanvasDimension, projects.MaxCanvasDimension)
		g.canvasH = clampF(h, projects.MinCanvasDimension, projects.MaxCanvasDimension)
		g.dirty = true
	}
}

// PointerUp ends the active gesture and commits its final state: layer
// transforms via the layer store plus an action record, canvas size via the
// settings store. A clean (non-dirty) gesture commits nothing.
func (s *Session) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gesture
	s.gesture = nil
	mode := s.mode
	s.mode = ModeIdle
	if g == nil || !g.dirty {
		return
	}

	switch mode {
	case ModeDragging, ModeResizing:
		s.commitTransform(g.layerID, g.start, g.shadow)
	case ModeCanvasResizing:
		w := int(math.Round(g.canvasW))
		h := int(math.Round(g.canvasH))
		if _, err := s.projects.UpdateCanvasSettings(s.ProjectID, projects.CanvasSettingsPatch{Width: &w, Height: &h}); err != nil {
			s.notify("canvas resize failed: %v", err)
		}
		s.resyncBestEffort()
	}
}

// PointerCancel discards the active gesture without committing; used on
// pointer-leave of the tracking surface.
func (s *Session) PointerCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gesture = nil
	s.mode = ModeIdle
}

// resizeTransform computes the shadow transform for a resize gesture: the
// grabbed handle follows the pointer, the opposite edge stays fixed, and
// dimensions never drop below the minimum.
func resizeTransform(start layers.Transform, handle string, p Point, preserveAspect bool) layers.Transform {
	out := start
	right := start.X + start.Width
	bottom := start.Y + start.Height

	w, h := start.Width, start.Height
	if strings.Contains(handle, "e") {
		w = p.X - start.X
	}
	if strings.Contains(handle, "w") {
		w = right - p.X
	}
	if strings.Contains(handle, "s") {
		h = p.Y - start.Y
	}
	if strings.Contains(handle, "n") {
		h = bottom - p.Y
	}

	if preserveAspect && start.Width > 0 && start.Height > 0 {
		ratio := start.Width / start.Height
		horizontal := strings.ContainsAny(handle, "ew")
		vertical := strings.ContainsAny(handle, "ns")
		switch {
		case horizontal && vertical:
			// Corner: follow the dominant relative change.
			if math.Abs(w/start.Width) >= math.Abs(h/start.Height) {
				h = w / ratio
			} else {
				w = h * ratio
			}
		case horizontal:
			h = w / ratio
		case vertical:
			w = h * ratio
		}
	}

	w = math.Max(w, layers.MinLayerDimension)
	h = math.Max(h, layers.MinLayerDimension)
	if preserveAspect && start.Width > 0 && start.Height > 0 {
		ratio := start.Width / start.Height
		if w/ratio < layers.MinLayerDimension {
			w = layers.MinLayerDimension * ratio
			h = layers.MinLayerDimension
		}
	}

	out.Width = w
	out.Height = h
	if strings.Contains(handle, "w") {
		out.X = right - w
	}
	if strings.Contains(handle, "n") {
		out.Y = bottom - h
	}
	return out
}

// Nudge applies a keyboard adjustment to the selected layer and commits it
// immediately. Rapid repeats of the same key on the same layer within the
// coalescing window collapse into one action record.
func (s *Session) Nudge(key string, shift bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle || s.selected == "" || s.editing == s.selected || s.closed {
		return
	}
	layer := s.findLayer(s.selected)
	if layer == nil {
		return
	}

	before := layer.TransformValue()
	after := before
	switch key {
	case "ArrowLeft":
		after.X -= nudgeMoveStep
	case "ArrowRight":
		after.X += nudgeMoveStep
	case "ArrowUp":
		after.Y -= nudgeMoveStep
	case "ArrowDown":
		after.Y += nudgeMoveStep
	case "r":
		if shift {
			after.Rotation -= nudgeRotationStep
		} else {
			after.Rotation += nudgeRotationStep
		}
	case "+":
		after.ScaleX = bumpScale(after.ScaleX, nudgeScaleStep)
		after.ScaleY = bumpScale(after.ScaleY, nudgeScaleStep)
	case "-":
		after.ScaleX = bumpScale(after.ScaleX, -nudgeScaleStep)
		after.ScaleY = bumpScale(after.ScaleY, -nudgeScaleStep)
	case "[":
		after.Opacity = clampF(after.Opacity-nudgeOpacityStep, 0, 1)
	case "]":
		after.Opacity = clampF(after.Opacity+nudgeOpacityStep, 0, 1)
	default:
		return
	}
	if after == before {
		return
	}

	now := time.Now()
	coalesce := s.lastNudge.actionID != 0 &&
		s.lastNudge.layerID == layer.ID &&
		s.lastNudge.key == key &&
		now.Sub(s.lastNudge.at) <= nudgeCoalesceWindow

	if _, err := s.layers.Update(layer.ID, layers.LayerUpdate{Transform: &after}); err != nil {
		s.notify("nudge failed: %v", err)
		s.resyncBestEffort()
		return
	}

	if coalesce {
		raw, err := json.Marshal(after)
		if err == nil {
			err = s.log.AmendAfter(s.ProjectID, s.lastNudge.actionID, raw)
		}
		switch {
		case errors.Is(err, history.ErrSuperseded):
			// Another action or an undo moved the tail past the coalesce
			// target; this keypress opens a fresh record instead.
			s.recordNudge(layer.ID, key, before, after, now)
		case err != nil:
			s.notify("nudge coalesce failed: %v", err)
		default:
			s.lastNudge.at = now
		}
	} else {
		s.recordNudge(layer.ID, key, before, after, now)
	}

	s.resyncBestEffort()
}

func (s *Session) recordNudge(layerID, key string, before, after layers.Transform, now time.Time) {
	b, errB := json.Marshal(before)
	a, errA := json.Marshal(after)
	if errB != nil || errA != nil {
		return
	}
	action, err := s.log.Record(s.ProjectID, layers.ActionUpdateTransform, layerID, b, a)
	if err != nil {
		s.notify("nudge record failed: %v", err)
		return
	}
	s.lastNudge = nudgeState{
		layerID:  layerID,
		key:      key,
		actionID: action.ID,
		at:       now,
	}
}

// bumpScale grows or shrinks a scale factor while keeping its sign, so a
// flipped layer stays flipped through scale nudges.
func bumpScale(v, step float64) float64 {
	if v >= 0 {
		return math.Max(v+step, 0.05)
	}
	return math.Min(v-step, -0.05)
}

// FlipHorizontal negates the selected layer's horizontal scale factor and
// commits immediately.
func (s *Session) FlipHorizontal() {
	s.flip(true)
}

// FlipVertical negates the selected layer's vertical scale factor.
func (s *Session) FlipVertical() {
	s.flip(false)
}

func (s *Session) flip(horizontal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle || s.selected == "" || s.closed {
		return
	}
	layer := s.findLayer(s.selected)
	if layer == nil {
		return
	}
	before := layer.TransformValue()
	after := before
	if horizontal {
		after.ScaleX = -after.ScaleX
	} else {
		after.ScaleY = -after.ScaleY
	}
	s.commitTransform(layer.ID, before, after)
}

// BeginTextEdit puts a text layer into edit mode. Edit mode and drag mode are
// mutually exclusive per layer.
func (s *Session) BeginTextEdit(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return
	}
	layer := s.findLayer(layerID)
	if layer == nil || layer.Type != layers.TypeText {
		return
	}
	s.editing = layerID
	s.selected = layerID
}

// BlurTextEdit commits edited content on focus-out. Blur events whose new
// focus target is a toolbar control are ignored so toolbar interaction does
// not exit edit mode.
func (s *Session) BlurTextEdit(content, focusTarget string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == "" {
		return
	}
	if strings.HasPrefix(focusTarget, "toolbar") {
		return
	}
	layerID := s.editing
	s.editing = ""

	layer := s.findLayer(layerID)
	if layer == nil {
		return
	}
	var prev string
	if layer.Content != nil {
		prev = *layer.Content
	}
	if content == prev {
		return
	}

	if _, err := s.layers.Update(layerID, layers.LayerUpdate{Content: &content}); err != nil {
		s.notify("content update failed: %v", err)
		s.resyncBestEffort()
		return
	}
	b, errB := json.Marshal(layers.ContentSnapshot{Content: prev})
	a, errA := json.Marshal(layers.ContentSnapshot{Content: content})
	if errB == nil && errA == nil {
		if _, err := s.log.Record(s.ProjectID, layers.ActionUpdateContent, layerID, b, a); err != nil {
			s.notify("content record failed: %v", err)
		}
	}
	s.lastNudge = nudgeState{}
	_ = s.projects.Touch(s.ProjectID)
	s.resyncBestEffort()
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
