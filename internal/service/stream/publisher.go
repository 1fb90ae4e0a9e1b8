// Package stream pushes annotated live-view frames to a websocket server.
package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"recorder/internal/logger"
	"recorder/internal/model"
)

// RetryInterval is the pause between connection attempts.
const RetryInterval = 5 * time.Second

const writeWait = 10 * time.Second

// FrameEncoder renders a frame and its detections as an image.
type FrameEncoder interface {
	Encode(frame model.Frame, detections []model.Detection) ([]byte, error)
}

// Metadata is sent as a text message before every image when enabled with
// SendMetadata.
type Metadata struct {
	Type      string   `json:"type"`
	Camera    string   `json:"camera"`
	Seq       uint64   `json:"seq"`
	Timestamp string   `json:"timestamp"`
	Person    bool     `json:"person"`
	Labels    []string `json:"labels"`
}

type liveFrame struct {
	frame      model.Frame
	detections []model.Detection
	present    bool
}

// Publisher keeps one websocket connection to the live-view server and sends
// the most recent frame whenever the connection is free. Older frames are
// replaced, never queued.
type Publisher struct {
	url     string
	camera  string
	encoder FrameEncoder
	dialer  *websocket.Dialer
	retry   time.Duration
	logger  *logger.Logger

	metadata bool

	latest chan liveFrame

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewPublisher creates a Publisher for rawURL. http(s) URLs are mapped to
// ws(s) and a /push/ path is served under /ws/push/.
func NewPublisher(rawURL, camera string, encoder FrameEncoder, logger *logger.Logger) (*Publisher, error) {
	pushURL, err := PushURL(rawURL)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		url:     pushURL,
		camera:  camera,
		encoder: encoder,
		dialer:  websocket.DefaultDialer,
		retry:   RetryInterval,
		logger:  logger,
		latest:  make(chan liveFrame, 1),
	}, nil
}

// PushURL converts a stream URL into the websocket push endpoint.
func PushURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported stream url scheme %q", u.Scheme)
	}

	if strings.Contains(u.Path, "/push/") && !strings.Contains(u.Path, "/ws/") {
		u.Path = strings.Replace(u.Path, "/push/", "/ws/push/", 1)
	}

	return u.String(), nil
}

// SendMetadata turns the JSON message before each image on or off. By
// default only the binary JPEG is sent. Call before Run.
func (p *Publisher) SendMetadata(enabled bool) {
	p.metadata = enabled
}

// URL returns the websocket endpoint.
func (p *Publisher) URL() string {
	return p.url
}

// Publish offers a frame for sending without blocking. A frame still waiting
// from an earlier call is replaced.
func (p *Publisher) Publish(frame model.Frame, detections []model.Detection, present bool) {
	lf := liveFrame{frame: frame, detections: detections, present: present}

	for {
		select {
		case p.latest <- lf:
			return
		default:
		}

		select {
		case <-p.latest:
			p.dropped.Add(1)
		default:
		}
	}
}

// Run connects and sends frames until ctx is done, reconnecting after
// failures.
func (p *Publisher) Run(ctx context.Context) {
	for {
		conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warning("Live view connection to %s failed: %v (retrying in %v)", p.url, err, p.retry)
			if !sleep(ctx, p.retry) {
				return
			}
			continue
		}

		p.logger.Info("Connected to live view server %s", p.url)
		err = p.serve(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		p.logger.Warning("Live view connection closed: %v (retrying in %v)", err, p.retry)
		if !sleep(ctx, p.retry) {
			return
		}
	}
}

// Stats returns the number of frames sent and replaced before sending.
func (p *Publisher) Stats() (sent, dropped uint64) {
	return p.sent.Load(), p.dropped.Load()
}

func (p *Publisher) serve(ctx context.Context, conn *websocket.Conn) error {
	closed := make(chan error, 1)
	go func() {
		// Drain control frames so close and ping messages are handled.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()

		case err := <-closed:
			return err

		case lf := <-p.latest:
			if err := p.send(conn, lf); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) send(conn *websocket.Conn, lf liveFrame) error {
	image, err := p.encoder.Encode(lf.frame, lf.detections)
	if err != nil {
		p.logger.Warning("Failed to encode live frame %d: %v", lf.frame.Seq, err)
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if p.metadata {
		meta := Metadata{
			Type:      "detections",
			Camera:    p.camera,
			Seq:       lf.frame.Seq,
			Timestamp: lf.frame.Timestamp.UTC().Format(time.RFC3339Nano),
			Person:    lf.present,
			Labels:    model.DetectionResult{Seq: lf.frame.Seq, Detections: lf.detections}.Labels(),
		}
		if err := conn.WriteJSON(meta); err != nil {
			return fmt.Errorf("failed to send metadata: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, image); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}

	p.sent.Add(1)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
