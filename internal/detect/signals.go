package detect

import (
	"time"

	"github.com/skaldera/vigil/internal/domain"
)

// Synthetic labels for face-derived signals. The face adapter does not emit
// object labels, so its output is translated into boolean detection streams
// that flow through the same engine as object detections. Routing the face
// count condition through the engine keeps MULTIPLE_FACES behind a cooldown
// instead of flooding one event per frame.
const (
	LabelNoFace        = "signal:no_face"
	LabelFocusLost     = "signal:focus_lost"
	LabelMultipleFaces = "signal:multiple_faces"
)

// FaceSignals summarizes one frame's face landmark inference.
type FaceSignals struct {
	// FaceCount is the number of faces found in the frame.
	FaceCount int
	// LookingAway is true when the primary face is oriented away from the
	// screen beyond the gaze threshold.
	LookingAway bool
	// Confidence is the detector's confidence in the primary face, in
	// [0,1]. Zero means the detector reported no confidence; the synthetic
	// detections then carry full score so count-based conditions are not
	// accidentally filtered out.
	Confidence float64
}

// Detections translates the face summary into synthetic detections for the
// engine. At most one detection per face-derived class is produced.
func (s FaceSignals) Detections() []Detection {
	score := s.Confidence
	if score <= 0 || score > 1 {
		score = 1
	}
	var out []Detection
	if s.FaceCount == 0 {
		out = append(out, Detection{Label: LabelNoFace, Score: 1, Source: "face"})
		return out
	}
	if s.LookingAway {
		out = append(out, Detection{Label: LabelFocusLost, Score: score, Source: "face"})
	}
	if s.FaceCount >= 2 {
		out = append(out, Detection{Label: LabelMultipleFaces, Score: 1, Source: "face"})
	}
	return out
}

// DefaultRules is the stock rule set: face signals tuned per interview
// proctoring conventions (no face for 10s, gaze away for 5s) and COCO
// object vocabulary mapped onto the prohibited-item classes.
func DefaultRules() []ClassRule {
	return []ClassRule{
		{
			Class:         domain.EventNoFace,
			Labels:        []string{LabelNoFace},
			MinConfidence: 0.5,
			PersistFor:    10 * time.Second,
			Cooldown:      10 * time.Second,
		},
		{
			Class:         domain.EventFocusLost,
			Labels:        []string{LabelFocusLost},
			MinConfidence: 0.5,
			PersistFor:    5 * time.Second,
			Cooldown:      10 * time.Second,
		},
		{
			Class:         domain.EventMultipleFaces,
			Labels:        []string{LabelMultipleFaces},
			MinConfidence: 0.5,
			PersistFor:    2 * time.Second,
			Cooldown:      15 * time.Second,
		},
		{
			Class:         domain.EventPhoneDetected,
			Labels:        []string{"cell phone"},
			MinConfidence: 0.6,
			PersistFor:    1500 * time.Millisecond,
			Cooldown:      20 * time.Second,
		},
		{
			Class:         domain.EventBookDetected,
			Labels:        []string{"book"},
			MinConfidence: 0.6,
			PersistFor:    1500 * time.Millisecond,
			Cooldown:      20 * time.Second,
		},
		{
			Class:         domain.EventExtraDevice,
			Labels:        []string{"laptop", "tv", "keyboard", "remote", "tablet"},
			MinConfidence: 0.6,
			PersistFor:    2 * time.Second,
			Cooldown:      20 * time.Second,
		},
	}
}
