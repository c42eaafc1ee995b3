package decode

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 decodes an MPEG-1 Layer 3 stream fully into memory using
// hajimehoshi/go-mp3, a pure-Go decoder. go-mp3 always emits 16-bit
// stereo PCM at the stream's native sample rate; we convert to float32
// here and let the caller resample/downmix as needed.
func decodeMP3(r io.Reader) ([][]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decoder: %w", err)
	}

	sampleRate := dec.SampleRate()
	const channels = 2
	left := make([]float32, 0, sampleRate*channels)
	right := make([]float32, 0, sampleRate*channels)

	buf := make([]byte, 4096)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			appendLE16Stereo(buf[:n], &left, &right)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			drainWarn("mp3 stream", err)
			break
		}
	}

	return [][]float32{left, right}, sampleRate, nil
}

// appendLE16Stereo unpacks little-endian 16-bit stereo samples into two
// float32 channel slices, normalised to [-1, 1].
func appendLE16Stereo(b []byte, left, right *[]float32) {
	const frameBytes = 4 // 2 channels * 2 bytes
	n := len(b) / frameBytes
	for i := 0; i < n; i++ {
		o := i * frameBytes
		l := int16(uint16(b[o]) | uint16(b[o+1])<<8)
		r := int16(uint16(b[o+2]) | uint16(b[o+3])<<8)
		*left = append(*left, float32(l)/32768.0)
		*right = append(*right, float32(r)/32768.0)
	}
}
