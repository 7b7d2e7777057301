package worker

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/truthlens/internal/types"
)

// serve answers every connection on l with handler's response.
func serve(t *testing.T, l net.Listener, handler func(SocketRequest) SocketResponse) {
	t.Helper()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				var req SocketRequest
				if err := msgpack.NewDecoder(c).Decode(&req); err != nil {
					return
				}
				msgpack.NewEncoder(c).Encode(handler(req))
			}(conn)
		}
	}()
}

func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestSocketDetector(t *testing.T) {
	l, path := listen(t)
	var got SocketRequest
	var mu sync.Mutex
	serve(t, l, func(req SocketRequest) SocketResponse {
		mu.Lock()
		got = req
		mu.Unlock()
		return SocketResponse{Faces: []SocketFace{{
			X: 5, Y: 6, Width: 7, Height: 8,
			Emotions: map[string]float64{"fear": 0.6, "neutral": 0.4},
			Eyes:     true,
		}}}
	})

	d := NewSocketDetector(path, time.Second)
	f := frame()
	res, err := d.Detect(context.Background(), f)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got.JPEG) != string(f.Data) || got.Width != 4 || got.Height != 4 {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(res) != 1 || res[0].Box != (types.Box{X: 5, Y: 6, Width: 7, Height: 8}) || !res[0].EyesVisible {
		t.Errorf("Unexpected result %+v", res)
	}
	if dom, _ := res[0].Emotions.Dominant(); dom != types.Fear {
		t.Errorf("Dominant = %s, want fear", dom)
	}
}

func TestSocketDetectorServiceError(t *testing.T) {
	l, path := listen(t)
	serve(t, l, func(SocketRequest) SocketResponse {
		return SocketResponse{Error: "model not loaded"}
	})

	_, err := NewSocketDetector(path, time.Second).Detect(context.Background(), frame())
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("Expected service error, got %v", err)
	}
}

func TestSocketDetectorNoService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := NewSocketDetector(path, 50*time.Millisecond).Detect(context.Background(), frame()); err == nil {
		t.Error("Expected dial error")
	}
}

type slowDetector struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (d *slowDetector) Detect(ctx context.Context, f *types.Frame) (types.DetectionResult, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return nil, nil
}

func TestSerialized(t *testing.T) {
	inner := &slowDetector{}
	s := NewSerialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				s.Detect(context.Background(), frame())
			}
		}()
	}
	wg.Wait()

	if inner.maxSeen.Load() != 1 {
		t.Errorf("Max concurrent calls = %d, want 1", inner.maxSeen.Load())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on a non-closer returned %v", err)
	}
}
