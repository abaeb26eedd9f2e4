package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/url"
	"sync"
	"time"

	"platecam/internal/logger"
	"platecam/internal/models"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RemoteDetector sends JPEG frames to a detection server over a websocket
// and reads back one JSON array of results per frame. The connection is
// dialed lazily and dropped on any error; the next call dials again.
type RemoteDetector struct {
	serverURL string
	dialer    *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemoteDetector(host string) *RemoteDetector {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}

	return &RemoteDetector{
		serverURL: u.String(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (d *RemoteDetector) URL() string { return d.serverURL }

func (d *RemoteDetector) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("JPEG encode error: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connectLocked(ctx)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		d.dropLocked(err)
		return nil, fmt.Errorf("send frame: %w", err)
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		d.dropLocked(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read result: %w", err)
	}

	var results []models.DetectionResult
	if err := json.Unmarshal(message, &results); err != nil {
		return nil, fmt.Errorf("JSON decode error: %w", err)
	}

	bounds := frame.Bounds()
	dets := make([]models.Detection, 0, len(results))
	for _, r := range results {
		if det, ok := r.ToDetection(bounds); ok {
			dets = append(dets, det)
		}
	}
	return dets, nil
}

func (d *RemoteDetector) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	logger.Log().Info("connecting to detector server", zap.String("url", d.serverURL))
	conn, _, err := d.dialer.DialContext(ctx, d.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	logger.Log().Info("connected to detection server", zap.String("url", d.serverURL))

	d.conn = conn
	return conn, nil
}

func (d *RemoteDetector) dropLocked(cause error) {
	if d.conn == nil {
		return
	}
	logger.Log().Warn("connection lost", zap.String("url", d.serverURL), zap.Error(cause))
	d.conn.Close()
	d.conn = nil
}

func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.conn.Close()
	d.conn = nil
	return err
}
