package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// wavWriter streams 32-bit IEEE-float WAV directly from the interleaved
// stereo master mix, patching the RIFF/data sizes on Close since total
// length isn't known until the recording stops. RIFF chunk layout follows
// the same fmt/data structure the fixture generator in the reference
// corpus uses, widened to float samples (format tag 3) so the recorded
// file carries the engine's native precision.
type wavWriter struct {
	f           *os.File
	sampleRate  int
	channels    int
	dataBytes   uint32
}

func newWAVWriter(path string, sampleRate, channels int) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create wav file: %w", err)
	}
	w := &wavWriter{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) writeHeader() error {
	w.f.Write([]byte("RIFF"))
	binary.Write(w.f, binary.LittleEndian, uint32(0)) // patched on Close
	w.f.Write([]byte("WAVE"))

	w.f.Write([]byte("fmt "))
	binary.Write(w.f, binary.LittleEndian, uint32(16))
	binary.Write(w.f, binary.LittleEndian, uint16(3)) // IEEE float
	binary.Write(w.f, binary.LittleEndian, uint16(w.channels))
	binary.Write(w.f, binary.LittleEndian, uint32(w.sampleRate))
	byteRate := uint32(w.sampleRate * w.channels * 4)
	binary.Write(w.f, binary.LittleEndian, byteRate)
	blockAlign := uint16(w.channels * 4)
	binary.Write(w.f, binary.LittleEndian, blockAlign)
	binary.Write(w.f, binary.LittleEndian, uint16(32))

	w.f.Write([]byte("data"))
	return binary.Write(w.f, binary.LittleEndian, uint32(0)) // patched on Close
}

// WriteFrames appends interleaved float32 samples to the data chunk.
func (w *wavWriter) WriteFrames(samples []float32) error {
	if err := binary.Write(w.f, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("record: write wav frames: %w", err)
	}
	w.dataBytes += uint32(len(samples) * 4)
	return nil
}

// Close patches the RIFF and data chunk sizes and closes the file.
func (w *wavWriter) Close() error {
	defer w.f.Close()

	riffSize := 36 + w.dataBytes
	if _, err := w.f.Seek(4, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, riffSize); err != nil {
		return err
	}
	if _, err := w.f.Seek(40, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.f, binary.LittleEndian, w.dataBytes)
}
