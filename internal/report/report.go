// Package report renders the flavor-text emotion report shown in the browser UI.
package report

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/truthlens/internal/types"
)

// NoFace is the message returned when there is nothing to report on.
const NoFace = "No face detected in the current frame. Recalibrating sensors..."

var intros = []string{
	"Initiating deep scan of subject's emotional state...",
	"Analyzing neural patterns for emotional resonance...",
	"Quantum emotional assessment in progress...",
	"Engaging psionic empathy modules for analysis...",
}

var details = map[types.Emotion][]string{
	types.Angry: {
		"Detecting elevated levels of cortisol and adrenaline.",
		"Subject's amygdala shows increased activity.",
		"Micro-expressions indicate suppressed aggression.",
		"Vocal analysis reveals underlying tension.",
	},
	types.Happy: {
		"Endorphin levels are significantly above baseline.",
		"Facial muscles show genuine Duchenne smile patterns.",
		"Oxytocin surge detected, indicating positive social bonds.",
		"Brainwave patterns consistent with states of joy and contentment.",
	},
	types.Sad: {
		"Serotonin levels are below optimal range.",
		"Pupillary response suggests emotional distress.",
		"Voice modulation indicates melancholic undertones.",
		"Posture analysis reveals subtle signs of emotional withdrawal.",
	},
	types.Surprise: {
		"Sudden spike in norepinephrine levels detected.",
		"Eyebrow elevation and mouth aperture consistent with astonishment.",
		"Galvanic skin response indicates unexpected stimuli processing.",
		"Cognitive processing speed momentarily accelerated.",
	},
	types.Neutral: {
		"Emotional indicators within standard deviation of baseline.",
		"Facial muscle tension at equilibrium.",
		"Autonomic nervous system in balanced state.",
		"Brainwave patterns suggest focused, non-emotional processing.",
	},
	types.Fear: {
		"Elevated heart rate and respiratory patterns detected.",
		"Pupil dilation suggests heightened state of alertness.",
		"Micro-tremors detected in peripheral limbs.",
		"Amygdala activation consistent with threat response.",
	},
	types.Disgust: {
		"Activation of insular cortex detected.",
		"Nasal wrinkling and upper lip elevation observed.",
		"Subtle recoil in postural analysis.",
		"Gustatory cortex shows unexpected activity.",
	},
}

var conclusions = []string{
	"Recommendation: Proceed with caution and adapt approach based on emotional state.",
	"Advise: Calibrate interaction protocols to align with subject's emotional frequency.",
	"Action required: Adjust environmental parameters to optimize emotional equilibrium.",
	"Note: Continue monitoring for potential emotional state fluctuations.",
}

// Generator picks phrases at random. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded from the clock.
func New() *Generator {
	now := uint64(time.Now().UnixNano())
	return NewWithSeed(now, now>>32)
}

// NewWithSeed returns a deterministic Generator.
func NewWithSeed(seed1, seed2 uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Generate describes the first face's dominant emotion. ok is false when there is no face.
func (g *Generator) Generate(result types.DetectionResult) (text string, ok bool) {
	face, found := result.First()
	if !found {
		return NoFace, false
	}
	dominant, _ := face.Emotions.Dominant()
	confidence := face.Emotions[dominant]

	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", g.pick(intros))
	fmt.Fprintf(&b, "Primary Emotion Detected: %s\n", capitalize(string(dominant)))
	fmt.Fprintf(&b, "Confidence Level: %.2f\n\n", confidence)
	b.WriteString("Detailed Analysis:\n")
	for _, phrase := range g.sample(details[dominant], 2) {
		fmt.Fprintf(&b, "- %s\n", phrase)
	}
	fmt.Fprintf(&b, "\n%s", g.pick(conclusions))
	return b.String(), true
}

func (g *Generator) pick(options []string) string {
	return options[g.rng.IntN(len(options))]
}

// sample returns n distinct phrases.
func (g *Generator) sample(options []string, n int) []string {
	idx := g.rng.Perm(len(options))
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = options[idx[i]]
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
