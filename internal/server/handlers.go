package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresmejia3/truthlens/internal/annotate"
	"github.com/andresmejia3/truthlens/internal/mjpeg"
	"github.com/andresmejia3/truthlens/internal/pipeline"
	"github.com/andresmejia3/truthlens/internal/types"
)

const maxFrameBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// handleVideoFeed opens a capture source for this consumer and streams annotated frames
// until the source ends or the client goes away.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Opener == nil {
		http.Error(w, "no capture source configured", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	src, err := s.cfg.Opener(ctx)
	if err != nil {
		s.logger.Error("failed to open capture source", "err", err)
		http.Error(w, fmt.Sprintf("error opening capture source: %s", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Debug("capture source closed with error", "err", err)
		}
	}()

	annotateFn := s.cfg.Annotate
	if annotateFn == nil {
		annotateFn = annotate.Annotate
	}

	w.Header().Set("Content-Type", mjpeg.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	enc := mjpeg.NewWriter(w, s.cfg.Quality)

	s.logger.Info("stream consumer connected", "remote", r.RemoteAddr)
	n, err := pipeline.Stream(ctx, src, s.cfg.State, annotateFn, enc)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("stream ended with error", "remote", r.RemoteAddr, "frames", n, "err", err)
		return
	}
	s.logger.Info("stream consumer finished", "remote", r.RemoteAddr, "frames", n)
}

func (s *Server) handleEmotions(w http.ResponseWriter, r *http.Request) {
	result, _ := s.cfg.State.Result()
	face, ok := result.First()
	if !ok || face.Emotions == nil {
		writeJSON(w, http.StatusOK, map[string]float64{})
		return
	}
	writeJSON(w, http.StatusOK, face.Emotions)
}

func (s *Server) handleDeceptionScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"deception_score": s.cfg.Scorer.Score()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	result, _ := s.cfg.State.Result()
	text, ok := s.cfg.Reports.Generate(result)
	if !ok {
		writeJSON(w, http.StatusOK, types.ErrorResult{Error: text})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": text})
}

type processFrameRequest struct {
	Frame string `json:"frame"`
}

type processFrameResponse struct {
	Emotions       types.Scores  `json:"emotions"`
	Dominant       types.Emotion `json:"dominant_emotion"`
	DeceptionScore float64       `json:"deception_score"`
	// ScoreKind marks deception_score as a placeholder, unrelated to the rolling score.
	ScoreKind string `json:"score_kind"`
}

// decodeFrame accepts either a data URI ("data:image/jpeg;base64,...") or bare base64.
func decodeFrame(body io.Reader) (*types.Frame, error) {
	var req processFrameRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	if req.Frame == "" {
		return nil, errors.New("missing frame")
	}
	payload := req.Frame
	if i := strings.IndexByte(payload, ','); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("bad base64: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("bad image: %w", err)
	}
	var data []byte
	if format == "jpeg" {
		data = raw
	}
	return types.NewFrame(img, data, 0), nil
}

// handleProcessFrame is the single-shot mode: one detection on an uploaded frame, outside
// the live pipeline. Its deception_score is a placeholder.
func (s *Server) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Detector == nil {
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResult{Error: "no detector configured"})
		return
	}

	frame, err := decodeFrame(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResult{Error: "invalid frame: " + err.Error()})
		return
	}

	result, err := s.cfg.Detector.Detect(r.Context(), frame)
	if err != nil {
		s.logger.Warn("single-shot detection failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResult{Error: err.Error()})
		return
	}

	face, ok := result.First()
	if !ok {
		writeJSON(w, http.StatusOK, types.ErrorResult{Error: "No face detected"})
		return
	}
	dominant, _ := face.Emotions.Dominant()
	writeJSON(w, http.StatusOK, processFrameResponse{
		Emotions:       face.Emotions,
		Dominant:       dominant,
		DeceptionScore: s.placeholder(),
		ScoreKind:      "placeholder",
	})
}

type statsResponse struct {
	pipeline.StateStats
	DetectorFailures uint64  `json:"detector_failures"`
	WindowsClosed    uint64  `json:"windows_closed"`
	DeceptionScore   float64 `json:"deception_score"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		StateStats:     s.cfg.State.Stats(),
		WindowsClosed:  s.cfg.Scorer.Windows(),
		DeceptionScore: s.cfg.Scorer.Score(),
	}
	if s.cfg.Worker != nil {
		resp.DetectorFailures = s.cfg.Worker.Failures()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResult{Error: "persistence is disabled"})
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = s.cfg.Session
	}
	if session == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResult{Error: "missing session"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, types.ErrorResult{Error: "invalid limit"})
			return
		}
		limit = n
	}

	windows, err := s.cfg.History.SessionWindows(r.Context(), session, limit)
	if err != nil {
		s.logger.Error("failed to load history", "session", session, "err", err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResult{Error: "failed to load history"})
		return
	}
	if windows == nil {
		windows = []types.ScoreWindow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "windows": windows})
}
