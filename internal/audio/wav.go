// Package audio holds the PCM plumbing shared by synthesis and
// recognition: WAV encode/decode, chunk merging, and silence analysis.
// Everything operates on mono 16-bit samples, the format every engine
// in the pipeline speaks.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// SamplesFromPCM16 converts little-endian 16-bit PCM bytes into the
// sample slice the rest of the package works with.
func SamplesFromPCM16(pcm []byte) ([]int, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples, nil
}

// WriteWAV writes mono 16-bit samples to path as a RIFF/WAV file.
func WriteWAV(path string, samples []int, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()

	buffer := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   samples,
	}
	enc := wav.NewEncoder(file, sampleRate, bitDepth, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

// ReadWAV loads a WAV file produced by WriteWAV. Multichannel input is
// rejected; the pipeline is mono end to end.
func ReadWAV(path string) ([]int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf.Format == nil {
		return nil, 0, fmt.Errorf("decode wav %s: missing format", path)
	}
	if buf.Format.NumChannels != 1 {
		return nil, 0, fmt.Errorf("decode wav %s: %d channels, want mono", path, buf.Format.NumChannels)
	}
	return buf.Data, buf.Format.SampleRate, nil
}

// MergeWAVFiles concatenates the given WAV files into dst in order and
// returns the combined duration in seconds. All inputs must share one
// sample rate.
func MergeWAVFiles(dst string, srcs []string) (float64, error) {
	if len(srcs) == 0 {
		return 0, fmt.Errorf("no audio chunks to merge")
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create merged wav: %w", err)
	}
	defer out.Close()

	var enc *wav.Encoder
	rate := 0
	totalFrames := 0
	for _, src := range srcs {
		samples, srcRate, err := ReadWAV(src)
		if err != nil {
			return 0, err
		}
		if enc == nil {
			rate = srcRate
			enc = wav.NewEncoder(out, rate, bitDepth, 1, 1)
		} else if srcRate != rate {
			return 0, fmt.Errorf("merge wav: %s has rate %d, want %d", src, srcRate, rate)
		}
		buffer := &gaudio.IntBuffer{
			Format: &gaudio.Format{NumChannels: 1, SampleRate: rate},
			Data:   samples,
		}
		if err := enc.Write(buffer); err != nil {
			return 0, fmt.Errorf("append wav %s: %w", src, err)
		}
		totalFrames += len(samples)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("close merged wav: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close merged wav: %w", err)
	}
	return Duration(totalFrames, rate), nil
}

// Duration converts a mono frame count to seconds.
func Duration(frames, sampleRate int) float64 {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	return float64(frames) / float64(sampleRate)
}
