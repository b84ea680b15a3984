package faces

// LivenessResult summarizes a blink-style liveness check on a selfie.
type LivenessResult struct {
	Live       bool    `json:"live"`
	Confidence float64 `json:"confidence"`
}

// Liveness thresholds. A genuine capture carries varied pixel data; a
// replayed flat frame or a trivially small payload does not.
const (
	livenessMinBytes    = 64
	livenessMinDistinct = 16
)

// Liveness runs the simulated blink check on raw selfie bytes. Like
// Embed, this stands in for the real detector: byte diversity plays
// the role of the eye-aspect-ratio signal, so identical inputs always
// score identically and flat or tiny images fail.
func Liveness(image []byte) LivenessResult {
	if len(image) < livenessMinBytes {
		return LivenessResult{Live: false, Confidence: 0}
	}
	var seen [256]bool
	distinct := 0
	for _, b := range image {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	conf := float64(distinct) / 64
	if conf > 1 {
		conf = 1
	}
	if distinct < livenessMinDistinct {
		return LivenessResult{Live: false, Confidence: conf}
	}
	return LivenessResult{Live: true, Confidence: conf}
}
