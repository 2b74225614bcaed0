package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestAnalyzeSilenceEmpty(t *testing.T) {
	stats := AnalyzeSilence(nil, 22050)
	if stats.Duration != 0 || stats.LeadingSilence != 0 || stats.TrailingSilence != 0 {
		t.Fatalf("expected zero stats for empty audio, got %+v", stats)
	}
}

func TestAnalyzeSilenceAllQuiet(t *testing.T) {
	samples := make([]int, 22050)
	stats := AnalyzeSilence(samples, 22050)
	if !almost(stats.Duration, 1.0) {
		t.Fatalf("duration = %v, want 1.0", stats.Duration)
	}
	if stats.LeadingSilence != 0 || stats.TrailingSilence != 0 {
		t.Fatalf("sub-floor audio should report no padding, got %+v", stats)
	}
}

func TestAnalyzeSilencePadding(t *testing.T) {
	const rate = 1000
	samples := make([]int, 2000)
	for i := 500; i < 1500; i++ {
		samples[i] = 16000
	}
	stats := AnalyzeSilence(samples, rate)
	if !almost(stats.Duration, 2.0) {
		t.Fatalf("duration = %v, want 2.0", stats.Duration)
	}
	if !almost(stats.LeadingSilence, 0.5) {
		t.Fatalf("leading = %v, want 0.5", stats.LeadingSilence)
	}
	if !almost(stats.TrailingSilence, 0.5) {
		t.Fatalf("trailing = %v, want 0.5", stats.TrailingSilence)
	}
}

func TestAnalyzeSilenceAdaptiveThreshold(t *testing.T) {
	const rate = 1000
	samples := make([]int, 1000)
	// Faint hiss everywhere, real signal in the middle. The hiss must
	// not count as speech once the threshold adapts to the loud peak.
	for i := range samples {
		samples[i] = 4
	}
	for i := 400; i < 600; i++ {
		samples[i] = 20000
	}
	stats := AnalyzeSilence(samples, rate)
	if !almost(stats.LeadingSilence, 0.4) {
		t.Fatalf("leading = %v, want 0.4", stats.LeadingSilence)
	}
	if !almost(stats.TrailingSilence, 0.4) {
		t.Fatalf("trailing = %v, want 0.4", stats.TrailingSilence)
	}
}

func TestAnalyzeSilenceAboveFloorBelowThreshold(t *testing.T) {
	samples := make([]int, 500)
	for i := range samples {
		samples[i] = 1 // ~3e-5 full scale: above the floor, below 1e-4
	}
	stats := AnalyzeSilence(samples, 1000)
	if !almost(stats.TrailingSilence, stats.Duration) {
		t.Fatalf("expected all-trailing silence, got %+v", stats)
	}
	if stats.LeadingSilence != 0 {
		t.Fatalf("expected zero leading silence, got %+v", stats)
	}
}

func TestSamplesFromPCM16(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}
	samples, err := SamplesFromPCM16(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 32767, -32768}
	for i, w := range want {
		if samples[i] != w {
			t.Fatalf("sample %d = %d, want %d", i, samples[i], w)
		}
	}
	if _, err := SamplesFromPCM16([]byte{0x01}); err == nil {
		t.Fatal("expected error for odd payload")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	samples := make([]int, 4410)
	for i := range samples {
		samples[i] = int(10000 * math.Sin(float64(i)/20))
	}

	if err := WriteWAV(path, samples, 44100); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rate != 44100 {
		t.Fatalf("rate = %d, want 44100", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestMergeWAVFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	dst := filepath.Join(dir, "merged.wav")

	first := []int{100, 200, 300}
	second := []int{-100, -200}
	if err := WriteWAV(a, first, 8000); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := WriteWAV(b, second, 8000); err != nil {
		t.Fatalf("write b: %v", err)
	}

	dur, err := MergeWAVFiles(dst, []string{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !almost(dur, 5.0/8000.0) {
		t.Fatalf("duration = %v, want %v", dur, 5.0/8000.0)
	}

	got, rate, err := ReadWAV(dst)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if rate != 8000 {
		t.Fatalf("rate = %d, want 8000", rate)
	}
	want := append(append([]int{}, first...), second...)
	if len(got) != len(want) {
		t.Fatalf("merged %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMergeWAVFilesRateMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	if err := WriteWAV(a, []int{1, 2}, 8000); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := WriteWAV(b, []int{3, 4}, 16000); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if _, err := MergeWAVFiles(filepath.Join(dir, "out.wav"), []string{a, b}); err == nil {
		t.Fatal("expected rate mismatch error")
	}
}
