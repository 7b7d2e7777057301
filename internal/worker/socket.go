package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/truthlens/internal/types"
)

// DefaultSocketTimeout bounds one socket round trip.
const DefaultSocketTimeout = 2 * time.Second

// SocketDetector talks to a model service over a unix socket, one connection per frame.
type SocketDetector struct {
	socketPath string
	timeout    time.Duration
}

// SocketRequest is sent to the model service.
type SocketRequest struct {
	JPEG   []byte `msgpack:"j"`
	Width  int    `msgpack:"w"`
	Height int    `msgpack:"h"`
}

// SocketFace is one face in a SocketResponse.
type SocketFace struct {
	X        int                `msgpack:"x"`
	Y        int                `msgpack:"y"`
	Width    int                `msgpack:"w"`
	Height   int                `msgpack:"h"`
	Emotions map[string]float64 `msgpack:"e"`
	Eyes     bool               `msgpack:"eyes"`
}

// SocketResponse is received from the model service.
type SocketResponse struct {
	Faces       []SocketFace `msgpack:"faces"`
	Error       string       `msgpack:"error"`
	InferenceMs float32      `msgpack:"inference_ms"`
}

// NewSocketDetector creates a client for the service listening at socketPath.
func NewSocketDetector(socketPath string, timeout time.Duration) *SocketDetector {
	if timeout <= 0 {
		timeout = DefaultSocketTimeout
	}
	return &SocketDetector{socketPath: socketPath, timeout: timeout}
}

// Detect sends a frame to the service and returns its faces.
func (c *SocketDetector) Detect(ctx context.Context, frame *types.Frame) (types.DetectionResult, error) {
	data, err := frame.JPEG()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	enc := msgpack.NewEncoder(conn)
	if err := enc.Encode(SocketRequest{JPEG: data, Width: frame.Width, Height: frame.Height}); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp SocketResponse
	if err := msgpack.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("model service error: %s", resp.Error)
	}

	result := make(types.DetectionResult, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		result = append(result, types.Face{
			Box:         types.Box{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
			Emotions:    knownScores(f.Emotions),
			EyesVisible: f.Eyes,
		})
	}
	return result, nil
}
