package worker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/truthlens/internal/types"
)

// wireFace is one face as emitted by the sidecar.
type wireFace struct {
	Box      [4]int             `json:"box"` // x, y, w, h
	Emotions map[string]float64 `json:"emotions"`
	Eyes     json.RawMessage    `json:"eyes,omitempty"`
}

// ParseResponse decodes a sidecar response: a list of faces, or {"error": "..."}.
func ParseResponse(body []byte) (types.DetectionResult, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var res types.ErrorResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("malformed worker response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", res.Error)
	}

	var faces []wireFace
	if err := json.Unmarshal(body, &faces); err != nil {
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}

	result := make(types.DetectionResult, 0, len(faces))
	for _, f := range faces {
		result = append(result, types.Face{
			Box:         types.Box{X: f.Box[0], Y: f.Box[1], Width: f.Box[2], Height: f.Box[3]},
			Emotions:    knownScores(f.Emotions),
			EyesVisible: len(f.Eyes) > 0 && !bytes.Equal(f.Eyes, []byte("null")),
		})
	}
	return result, nil
}

// knownScores keeps only the fixed label set.
func knownScores(raw map[string]float64) types.Scores {
	s := make(types.Scores, len(types.Labels))
	for _, l := range types.Labels {
		if v, ok := raw[string(l)]; ok {
			s[l] = v
		}
	}
	return s
}
