package segmentation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Modes accepted by the remote segmentation service.
const (
	ModeAuto        = "auto"
	ModeSemantic    = "semantic"
	ModeBoundingBox = "bounding-box"
)

// Job statuses reported over the stream.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrDisabled is returned when no remote endpoint is configured.
var ErrDisabled = errors.New("segmentation: remote endpoint not configured")

// BoundingBox is a prompt region in source image pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Request describes one segmentation job.
type Request struct {
	Image       []byte
	MimeType    string
	Mode        string
	Prompt      string
	BoundingBox *BoundingBox
}

// Event is one status frame from the remote job. ResultImage is populated on
// the completed frame only.
type Event struct {
	Status      string
	Message     string
	ResultImage []byte
}

// Client drives the remote segmentation service over a websocket. One dial
// per job; the service streams status frames until a terminal one.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
}

// NewClientFromEnv reads SEGMENT_ENDPOINT and SEGMENT_API_KEY. An empty
// endpoint produces a disabled client rather than an error.
func NewClientFromEnv() *Client {
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("SEGMENT_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		endpoint: strings.TrimSpace(os.Getenv("SEGMENT_ENDPOINT")),
		apiKey:   strings.TrimSpace(os.Getenv("SEGMENT_API_KEY")),
		timeout:  timeout,
	}
}

// Configure overrides the endpoint and key, used when settings switch the app
// to a remote processing target at runtime.
func (c *Client) Configure(endpoint, apiKey string) {
	c.endpoint = strings.TrimSpace(endpoint)
	c.apiKey = strings.TrimSpace(apiKey)
}

// Enabled reports whether a remote endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

func normalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeSemantic:
		return ModeSemantic, nil
	case ModeBoundingBox, "bbox":
		return ModeBoundingBox, nil
	default:
		return "", fmt.Errorf("segmentation: unsupported mode %q", mode)
	}
}

// Run submits a job and returns a channel of status events. The channel is
// closed after a terminal status (completed or failed) or when the transport
// drops; transport failures arrive as a failed event, not a hard error.
func (c *Client) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if len(req.Image) == 0 {
		return nil, errors.New("segmentation: image payload is empty")
	}
	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeBoundingBox && req.BoundingBox == nil {
		return nil, errors.New("segmentation: bounding-box mode requires a box")
	}
	if mode == ModeSemantic && strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("segmentation: semantic mode requires a prompt")
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 8 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("segmentation: connect failed: %v (%s)", err, strings.TrimSpace(string(body)))
			}
		}
		return nil, fmt.Errorf("segmentation: connect failed: %w", err)
	}

	taskID := uuid.NewString()
	submit := map[string]any{
		"action":  "run-task",
		"task_id": taskID,
		"payload": map[string]any{
			"mode":   mode,
			"image":  base64.StdEncoding.EncodeToString(req.Image),
			"mime":   strings.TrimSpace(req.MimeType),
			"prompt": strings.TrimSpace(req.Prompt),
		},
	}
	if req.BoundingBox != nil {
		submit["payload"].(map[string]any)["bounding_box"] = req.BoundingBox
	}
	if err := conn.WriteJSON(submit); err != nil {
		conn.Close()
		return nil, fmt.Errorf("segmentation: submit failed: %w", err)
	}

	events := make(chan Event, 4)
	job := &jobStream{client: c, conn: conn, taskID: taskID, events: events, ctx: ctx}
	go job.listen()
	return events, nil
}

type jobStream struct {
	client    *Client
	conn      *websocket.Conn
	taskID    string
	events    chan Event
	ctx       context.Context
	closeOnce sync.Once
}

type wireFrame struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	ResultImage  string `json:"result_image"`
}

func (j *jobStream) listen() {
	defer func() {
		j.closeOnce.Do(func() {
			_ = j.conn.Close()
		})
		close(j.events)
	}()

	for {
		if j.client.timeout > 0 {
			_ = j.conn.SetReadDeadline(time.Now().Add(j.client.timeout))
		}
		_, data, err := j.conn.ReadMessage()
		if err != nil {
			if j.ctx.Err() != nil {
				return
			}
			j.emit(Event{Status: StatusFailed, Message: fmt.Sprintf("stream read failed: %v", err)})
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("segmentation: parse frame failed: %v", err)
			continue
		}
		if frame.TaskID != "" && !strings.EqualFold(frame.TaskID, j.taskID) {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(frame.Status)) {
		case StatusQueued:
			j.emit(Event{Status: StatusQueued})
		case StatusRunning:
			j.emit(Event{Status: StatusRunning})
		case StatusCompleted:
			result, err := base64.StdEncoding.DecodeString(frame.ResultImage)
			if err != nil || len(result) == 0 {
				j.emit(Event{Status: StatusFailed, Message: "completed frame carried no usable image"})
				return
			}
			j.emit(Event{Status: StatusCompleted, ResultImage: result})
			return
		case StatusFailed:
			message := strings.TrimSpace(frame.ErrorMessage)
			if message == "" {
				message = "unknown error"
			}
			j.emit(Event{Status: StatusFailed, Message: message})
			return
		default:
			// ignore unknown frames
		}
	}
}

func (j *jobStream) emit(event Event) {
	select {
	case j.events <- event:
	case <-j.ctx.Done():
	}
}
