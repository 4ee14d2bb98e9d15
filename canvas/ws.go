package canvas

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"squish_back/history"
	"squish_back/layers"
	"squish_back/projects"
)

// Module serves the interactive canvas surface over a WebSocket: pointer and
// keyboard events in, layer-state frames out.
type Module struct {
	registry *Registry
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local desktop shell; the HTTP layer already allows any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func RegisterRoutes(router *gin.Engine, layerStore *layers.Store, actionLog *history.Log, projectStore *projects.Store) (*Module, error) {
	module := &Module{registry: NewRegistry(layerStore, actionLog, projectStore)}
	router.GET("/projects/:id/canvas/ws", module.handleSocket)
	return module, nil
}

// Registry exposes the session registry, mainly for tests.
func (m *Module) Registry() *Registry {
	return m.registry
}

// event is one client message. Fields are a union over the event types; the
// relevant ones are read per type.
type event struct {
	Type     string  `json:"type"`
	Screen   Point   `json:"screen"`
	LayerID  string  `json:"layer_id,omitempty"`
	Handle   string  `json:"handle,omitempty"`
	Target   string  `json:"target,omitempty"`
	Modifier bool    `json:"modifier,omitempty"`
	Shift    bool    `json:"shift,omitempty"`
	Key      string  `json:"key,omitempty"`
	Factor   float64 `json:"factor,omitempty"`
	DX       float64 `json:"dx,omitempty"`
	DY       float64 `json:"dy,omitempty"`
	Content  string  `json:"content,omitempty"`
}

func (m *Module) handleSocket(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	session, err := m.registry.Open(projectID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"type": "error", "error": "project not found"})
		return
	}
	defer m.registry.Close(session.ID)

	// Initial frame so the client can render before the first input.
	if err := writeState(conn, session); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("canvas: socket read: %v", err)
			}
			return
		}

		var ev event
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid event"})
			continue
		}

		m.dispatch(session, ev)

		if err := writeState(conn, session); err != nil {
			return
		}
	}
}

func (m *Module) dispatch(s *Session, ev event) {
	switch ev.Type {
	case "pointer_down":
		s.PointerDown(PointerDownEvent{Screen: ev.Screen, LayerID: ev.LayerID, Handle: ev.Handle, Target: ev.Target})
	case "pointer_move":
		s.PointerMove(PointerMoveEvent{Screen: ev.Screen, Modifier: ev.Modifier})
	case "pointer_up":
		s.PointerUp()
	case "pointer_leave":
		s.PointerCancel()
	case "zoom":
		s.ZoomBy(ev.Factor, ev.Screen)
	case "pan":
		s.PanBy(ev.DX, ev.DY)
	case "key":
		s.Nudge(ev.Key, ev.Shift)
	case "select":
		s.Select(ev.LayerID)
	case "flip_h":
		s.FlipHorizontal()
	case "flip_v":
		s.FlipVertical()
	case "edit_begin":
		s.BeginTextEdit(ev.LayerID)
	case "edit_blur":
		s.BlurTextEdit(ev.Content, ev.Target)
	case "resync":
		if err := s.Resync(); err != nil {
			log.Printf("canvas: resync: %v", err)
		}
	}
}

func writeState(conn *websocket.Conn, s *Session) error {
	state := s.Snapshot()
	return conn.WriteJSON(gin.H{"type": "state", "state": state})
}
