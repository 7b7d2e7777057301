package types

// Emotion is one of the fixed labels produced by the emotion detector.
type Emotion string

const (
	Angry    Emotion = "angry"
	Disgust  Emotion = "disgust"
	Fear     Emotion = "fear"
	Happy    Emotion = "happy"
	Sad      Emotion = "sad"
	Surprise Emotion = "surprise"
	Neutral  Emotion = "neutral"
)

// Labels is the fixed label set in tie-break order: when two labels share the
// maximum confidence, the one listed first wins.
var Labels = [...]Emotion{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// AngerThreshold is the angry confidence above which a face is displayed as angry
// regardless of its dominant emotion.
const AngerThreshold = 0.3

// Scores maps emotion labels to confidences in [0,1]. Missing labels read as 0.
type Scores map[Emotion]float64

// Dominant returns the label with the highest confidence. Labels outside the fixed
// set are ignored. An empty mapping yields Neutral with ok=false.
func (s Scores) Dominant() (e Emotion, ok bool) {
	best := -1.0
	e = Neutral
	for _, l := range Labels {
		v, present := s[l]
		if !present {
			continue
		}
		if v > best {
			best = v
			e = l
			ok = true
		}
	}
	return e, ok
}

// Displayed returns the emotion to show for a face: the dominant one, unless the
// angry confidence exceeds AngerThreshold, in which case it is always Angry.
func (s Scores) Displayed() Emotion {
	if s[Angry] > AngerThreshold {
		return Angry
	}
	e, _ := s.Dominant()
	return e
}

// Vector returns the confidences in Labels order.
func (s Scores) Vector() []float32 {
	v := make([]float32, len(Labels))
	for i, l := range Labels {
		v[i] = float32(s[l])
	}
	return v
}

// ScoresFromVector is the inverse of Vector.
func ScoresFromVector(v []float32) Scores {
	s := make(Scores, len(Labels))
	for i, l := range Labels {
		if i < len(v) {
			s[l] = float64(v[i])
		}
	}
	return s
}

// Clone returns an independent copy.
func (s Scores) Clone() Scores {
	if s == nil {
		return nil
	}
	c := make(Scores, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}
