// Package record implements the recorder tap (C8): a bounded
// single-producer/single-consumer ring buffer fed synchronously from the
// mixer's audio callback, drained by a dedicated writer goroutine that
// performs the actual (blocking) file I/O, so the real-time thread never
// touches the filesystem.
package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	concentus "github.com/lostromb/concentus/go/opus"

	"github.com/soundforge/djengine/internal/types"
)

const (
	sampleRate    = 44100
	opusRate      = 48000
	channels      = 2
	ringFrames    = sampleRate * 2 // 2s of headroom before drops begin
	drainChunk    = 4096
	opusFrameSize = 960 // 20ms @ 48kHz
)

// Event reports a state transition or error to the control plane.
type Event struct {
	Status types.RecordingStatus
	Err    error
}

// Recorder is the mixer Tap that records the pre-routing master mix to
// disk. Safe to install on a Mixer even when idle: Write is a no-op
// until Start has been called.
type Recorder struct {
	history *HistoryStore
	dir     string

	mu     sync.Mutex
	status types.RecordingStatus
	path   string
	entry  int64

	r *ring

	wg       sync.WaitGroup
	stopCh   chan struct{}
	EventsCh chan Event
}

// New creates a Recorder that writes into dir and records history
// through store.
func New(dir string, store *HistoryStore) *Recorder {
	return &Recorder{
		history:  store,
		dir:      dir,
		r:        newRing(ringFrames),
		EventsCh: make(chan Event, 8),
	}
}

// Status reports the recorder's current lifecycle state.
func (rec *Recorder) Status() types.RecordingStatus {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status
}

// Write implements mixer.Tap. Called once per audio callback with the
// interleaved stereo master mix; must not block or allocate on the
// steady-state path.
func (rec *Recorder) Write(master []float32) {
	rec.mu.Lock()
	active := rec.status == types.RecordingActive
	rec.mu.Unlock()
	if !active {
		return
	}
	rec.r.push(master)
}

// Start begins a new recording in the given format, generating a
// timestamped filename and collision-avoiding with a numeric suffix if
// one already exists for this second.
func (rec *Recorder) Start(format types.RecordingFormat) error {
	rec.mu.Lock()
	if rec.status == types.RecordingActive || rec.status == types.RecordingPreparing {
		rec.mu.Unlock()
		return fmt.Errorf("record: already recording")
	}
	rec.status = types.RecordingPreparing
	rec.mu.Unlock()

	path, err := rec.allocateFilename(format)
	if err != nil {
		rec.fail(err)
		return err
	}

	entryID, err := rec.history.Begin(path, string(format), time.Now().Unix())
	if err != nil {
		rec.fail(err)
		return err
	}

	rec.mu.Lock()
	rec.path = path
	rec.entry = entryID
	rec.status = types.RecordingActive
	rec.mu.Unlock()

	rec.stopCh = make(chan struct{})
	rec.wg.Add(1)
	go rec.writeLoop(path, format)

	rec.emit(types.RecordingActive, nil)
	return nil
}

// Stop finalises the current recording and waits for the writer to flush.
func (rec *Recorder) Stop() error {
	rec.mu.Lock()
	if rec.status != types.RecordingActive {
		rec.mu.Unlock()
		return fmt.Errorf("record: not recording")
	}
	rec.status = types.RecordingStopping
	rec.mu.Unlock()

	close(rec.stopCh)
	rec.wg.Wait()

	rec.history.Finish(rec.entry, time.Now().Unix())

	rec.mu.Lock()
	rec.status = types.RecordingIdle
	rec.mu.Unlock()

	rec.emit(types.RecordingIdle, nil)
	return nil
}

func (rec *Recorder) fail(err error) {
	rec.mu.Lock()
	rec.status = types.RecordingError
	rec.mu.Unlock()
	rec.emit(types.RecordingError, err)
}

func (rec *Recorder) emit(status types.RecordingStatus, err error) {
	select {
	case rec.EventsCh <- Event{Status: status, Err: err}:
	default:
	}
}

// allocateFilename picks YYYYMMDD-HHMMSS[-N].ext, incrementing N until no
// collision exists on disk.
func (rec *Recorder) allocateFilename(format types.RecordingFormat) (string, error) {
	ext := extensionFor(format)
	base := time.Now().Format("20060102-150405")
	candidate := filepath.Join(rec.dir, base+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(rec.dir, fmt.Sprintf("%s-%d%s", base, n, ext))
		if n > 1000 {
			return "", fmt.Errorf("record: could not allocate a free filename")
		}
	}
}

func extensionFor(format types.RecordingFormat) string {
	if format == types.FormatOggVorbis {
		return ".ogg"
	}
	return ".wav"
}

// writeLoop drains the ring buffer and performs blocking file I/O on a
// dedicated goroutine, decoupled from the audio callback thread.
func (rec *Recorder) writeLoop(path string, format types.RecordingFormat) {
	defer rec.wg.Done()

	f, err := os.Create(path)
	if err != nil {
		rec.fail(fmt.Errorf("record: create file: %w", err))
		return
	}
	defer f.Close()

	var sink interface {
		WriteFrames([]float32) error
		Close() error
	}

	switch format {
	case types.FormatOggVorbis:
		enc, err := newOpusSink(f)
		if err != nil {
			rec.fail(err)
			return
		}
		sink = enc
	default:
		w := &wavFileSink{}
		ww, err := newWAVWriterFromFile(f, sampleRate, channels)
		if err != nil {
			rec.fail(err)
			return
		}
		w.w = ww
		sink = w
	}

	chunk := make([]float32, drainChunk)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		for {
			n := rec.r.drain(chunk)
			if n == 0 {
				return
			}
			if err := sink.WriteFrames(chunk[:n]); err != nil {
				slog.Error("record: write failed", "err", err)
				rec.fail(fmt.Errorf("record: write: %w", err))
			}
		}
	}

	var lastDropped int64
	for {
		select {
		case <-rec.stopCh:
			flush()
			if err := sink.Close(); err != nil {
				slog.Error("record: finalize failed", "err", err)
			}
			return
		case <-ticker.C:
			flush()
			if dropped := rec.r.droppedCount(); dropped > lastDropped {
				slog.Warn("record: writer fell behind, samples dropped", "count", dropped)
				rec.fail(fmt.Errorf("record: backpressure, dropped %d samples", dropped-lastDropped))
				lastDropped = dropped
			}
		}
	}
}

// wavFileSink adapts wavWriter to the sink interface writeLoop expects.
type wavFileSink struct {
	w *wavWriter
}

func (s *wavFileSink) WriteFrames(samples []float32) error { return s.w.WriteFrames(samples) }
func (s *wavFileSink) Close() error                        { return s.w.Close() }

func newWAVWriterFromFile(f *os.File, sampleRate, channels int) (*wavWriter, error) {
	w := &wavWriter{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

// opusSink encodes the float32 master mix through Concentus's Opus
// encoder (the same pure-Go SILK+CELT implementation the decode path
// uses) and frames the result into an Ogg container. Opus only accepts
// 8/12/16/24/48kHz input, so the engine's native 44.1kHz master mix is
// linearly resampled to 48kHz before encoding.
type opusSink struct {
	enc     *concentus.OpusEncoder
	ogg     *oggOpusWriter
	pcmBuf  []int16
	dataBuf []byte

	inBuf       []float32 // unconsumed input tail, interleaved stereo @44100
	resamplePos float64   // fractional input-frame index of the next output sample
	outBuf      []float32 // resampled interleaved stereo @48000, awaiting a full frame
}

const resampleStep = float64(sampleRate) / float64(opusRate)

func newOpusSink(f *os.File) (*opusSink, error) {
	enc, err := concentus.NewOpusEncoder(opusRate, channels, concentus.OPUS_APPLICATION_AUDIO)
	if err != nil {
		return nil, fmt.Errorf("record: create opus encoder: %w", err)
	}
	ogg, err := newOggOpusWriter(f, channels)
	if err != nil {
		return nil, err
	}
	return &opusSink{
		enc:     enc,
		ogg:     ogg,
		pcmBuf:  make([]int16, opusFrameSize*channels),
		dataBuf: make([]byte, 4000),
	}, nil
}

// WriteFrames resamples the incoming 44.1kHz stereo block to 48kHz and
// encodes as many complete 20ms Opus frames as become available,
// buffering any remainder for the next call.
func (s *opusSink) WriteFrames(samples []float32) error {
	s.inBuf = append(s.inBuf, samples...)
	inFrames := len(s.inBuf) / 2
	frameLen := opusFrameSize * channels

	for {
		idx := int(s.resamplePos)
		if idx+1 >= inFrames {
			break
		}
		frac := float32(s.resamplePos - float64(idx))
		l := s.inBuf[idx*2] + frac*(s.inBuf[(idx+1)*2]-s.inBuf[idx*2])
		r := s.inBuf[idx*2+1] + frac*(s.inBuf[(idx+1)*2+1]-s.inBuf[idx*2+1])
		s.outBuf = append(s.outBuf, l, r)
		s.resamplePos += resampleStep

		if len(s.outBuf) >= frameLen {
			if err := s.encodeFrame(s.outBuf[:frameLen]); err != nil {
				return err
			}
			s.outBuf = s.outBuf[frameLen:]
		}
	}

	consumed := int(s.resamplePos)
	if consumed > 0 {
		if consumed > inFrames-1 {
			consumed = inFrames - 1
		}
		s.inBuf = s.inBuf[consumed*2:]
		s.resamplePos -= float64(consumed)
	}
	return nil
}

func (s *opusSink) encodeFrame(stereo []float32) error {
	for i, v := range stereo {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s.pcmBuf[i] = int16(v * 32767)
	}
	n, err := s.enc.Encode(s.pcmBuf, 0, opusFrameSize, s.dataBuf, 0, len(s.dataBuf))
	if err != nil {
		return fmt.Errorf("record: opus encode: %w", err)
	}
	return s.ogg.WritePacket(s.dataBuf[:n], opusFrameSize)
}

func (s *opusSink) Close() error {
	return s.ogg.Close()
}
