// Package decode turns a compressed audio file on disk into interleaved
// float32 PCM at the engine's sample rate, plus a mono mixdown used for
// analysis. It runs synchronously and is always invoked off the audio
// callback thread (see internal/control).
package decode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrDecodeEmpty is returned when decoding produced zero frames.
var ErrDecodeEmpty = errors.New("decode: zero frames produced")

// Result holds the decoded audio ready to hand to a deck.
type Result struct {
	PCM              []float32 // interleaved stereo, engine sample rate
	Mono             []float32 // mono mixdown, engine sample rate, for analysis
	NativeSampleRate int
	Channels         int
}

// Options controls the target format of a decode.
type Options struct {
	SampleRate int // engine sample rate, e.g. 44100
	Channels   int // engine output channel count, always 2 for deck PCM
}

// File decodes path synchronously into memory, resampling and downmixing
// as needed. Non-fatal warnings (odd frame counts, trailing garbage) are
// logged; a file that yields no frames fails with ErrDecodeEmpty, and a
// file that can't be opened or parsed fails with a wrapped I/O error.
func File(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open %s: %w", path, err)
	}
	defer f.Close()

	if opts.SampleRate == 0 {
		opts.SampleRate = 44100
	}
	if opts.Channels == 0 {
		opts.Channels = 2
	}

	var (
		raw        [][]float32 // per-channel native PCM
		nativeRate int
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		raw, nativeRate, err = decodeMP3(f)
	case ".mp4", ".m4a":
		raw, nativeRate, err = decodeMP4(f)
	default:
		// Fall back to MP3 framing — most compressed DJ libraries are MP3,
		// and go-mp3 fails fast on non-MP3 bytes rather than hanging.
		raw, nativeRate, err = decodeMP3(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %s: %w", path, err)
	}
	if len(raw) == 0 || len(raw[0]) == 0 {
		return nil, fmt.Errorf("decode: %s: %w", path, ErrDecodeEmpty)
	}

	interleaved := interleave(raw)
	resampled := resampleNearest(interleaved, len(raw), nativeRate, opts.SampleRate)
	stereo := toStereo(resampled, len(raw))
	mono := downmix(resampled, len(raw))

	clampInPlace(stereo)
	clampInPlace(mono)

	if len(stereo) == 0 {
		return nil, fmt.Errorf("decode: %s: %w", path, ErrDecodeEmpty)
	}

	return &Result{
		PCM:              stereo,
		Mono:             mono,
		NativeSampleRate: nativeRate,
		Channels:         len(raw),
	}, nil
}

// interleave packs per-channel slices into a single interleaved slice.
func interleave(channels [][]float32) []float32 {
	if len(channels) == 1 {
		return channels[0]
	}
	n := len(channels[0])
	out := make([]float32, n*len(channels))
	for i := 0; i < n; i++ {
		for c := range channels {
			if i < len(channels[c]) {
				out[i*len(channels)+c] = channels[c][i]
			}
		}
	}
	return out
}

// resampleNearest performs nearest-neighbour frame lookup to retarget the
// sample rate. A no-op when rates already match.
func resampleNearest(interleaved []float32, channels, nativeRate, targetRate int) []float32 {
	if nativeRate == 0 || nativeRate == targetRate || channels == 0 {
		return interleaved
	}
	frames := len(interleaved) / channels
	outFrames := int(float64(frames) * float64(targetRate) / float64(nativeRate))
	out := make([]float32, outFrames*channels)
	ratio := float64(frames) / float64(outFrames)
	for i := 0; i < outFrames; i++ {
		src := int(float64(i) * ratio)
		if src >= frames {
			src = frames - 1
		}
		copy(out[i*channels:(i+1)*channels], interleaved[src*channels:(src+1)*channels])
	}
	return out
}

// toStereo duplicates mono to stereo, or passes stereo through unchanged.
// Anything with more than 2 channels is downmixed by channel average into
// a stereo pair.
func toStereo(interleaved []float32, channels int) []float32 {
	switch channels {
	case 2:
		return interleaved
	case 1:
		out := make([]float32, len(interleaved)*2)
		for i, s := range interleaved {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	default:
		frames := len(interleaved) / channels
		out := make([]float32, frames*2)
		for i := 0; i < frames; i++ {
			var l, r, nl, nr float32
			for c := 0; c < channels; c++ {
				v := interleaved[i*channels+c]
				if c%2 == 0 {
					l += v
					nl++
				} else {
					r += v
					nr++
				}
			}
			out[i*2] = l / nl
			out[i*2+1] = r / nr
		}
		return out
	}
}

// downmix averages all channels into a mono signal for analysis.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func clampInPlace(pcm []float32) {
	for i, s := range pcm {
		if s > 1 {
			pcm[i] = 1
		} else if s < -1 {
			pcm[i] = -1
		}
	}
}

// drainWarn logs a non-fatal decode warning without aborting the decode.
func drainWarn(path string, err error) {
	if err != nil && err != io.EOF {
		slog.Warn("decode: non-fatal warning", "path", path, "error", err)
	}
}
