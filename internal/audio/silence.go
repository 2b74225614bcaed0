package audio

import "math"

// SilenceStats describes a chunk of audio: its total length and how
// much silence pads each end. All values are seconds.
type SilenceStats struct {
	Duration        float64
	LeadingSilence  float64
	TrailingSilence float64
}

// silenceFloor is the quietest peak still treated as real signal. A
// chunk whose loudest sample sits at or below it is reported with zero
// padding rather than as all trailing silence.
const silenceFloor = 1e-6

// AnalyzeSilence measures leading and trailing silence in mono 16-bit
// samples. The threshold adapts to the chunk's own peak (0.5% of it,
// floored at 1e-4 full scale) so quiet narration is not mistaken for
// silence. A chunk with signal above the floor but nothing over the
// threshold counts entirely as trailing silence.
func AnalyzeSilence(samples []int, sampleRate int) SilenceStats {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	if len(samples) == 0 {
		return SilenceStats{}
	}

	frames := len(samples)
	duration := float64(frames) / float64(sampleRate)

	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(float64(s)) / 32768.0; a > peak {
			peak = a
		}
	}
	if peak <= silenceFloor {
		return SilenceStats{Duration: duration}
	}

	threshold := math.Max(1e-4, peak*0.005)
	first, last := -1, -1
	for i, s := range samples {
		if math.Abs(float64(s))/32768.0 >= threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return SilenceStats{Duration: duration, TrailingSilence: duration}
	}

	return SilenceStats{
		Duration:        duration,
		LeadingSilence:  math.Max(0, float64(first)/float64(sampleRate)),
		TrailingSilence: math.Max(0, float64(frames-last-1)/float64(sampleRate)),
	}
}
