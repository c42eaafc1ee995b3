package decode

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	concentus "github.com/lostromb/concentus/go/opus"
	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"
)

// decodeMP4 extracts the full audio track from an MP4-contained file
// (AAC or Opus payload) and returns its channels as separate float32
// slices, adapted from the BPM analyzer's MP4 extraction path: both
// decode the same way, but this path decodes the entire track rather
// than capping at a short analysis window.

type audioCodec int

const (
	codecUnknown audioCodec = iota
	codecAAC
	codecOpus
)

type sampleLoc struct {
	offset uint64
	size   uint32
}

func decodeMP4(rs io.ReadSeeker) ([][]float32, int, error) {
	info, err := gomp4.Probe(rs)
	if err != nil {
		return nil, 0, fmt.Errorf("mp4 probe: %w", err)
	}

	codec := detectAudioCodec(rs)
	track, err := findAudioTrack(info, codec)
	if err != nil {
		return nil, 0, err
	}
	sampleRate := int(track.Timescale)

	switch codec {
	case codecAAC:
		return decodeAACFull(rs, track, sampleRate)
	case codecOpus:
		return decodeOpusFull(rs, track, sampleRate)
	default:
		return nil, 0, fmt.Errorf("unsupported mp4 audio codec")
	}
}

func detectAudioCodec(rs io.ReadSeeker) audioCodec {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return codecUnknown
	}
	codec := codecUnknown
	_, _ = gomp4.ReadBoxStructure(rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		if codec != codecUnknown {
			return nil, nil
		}
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMp4a():
			codec = codecAAC
			return nil, nil
		case gomp4.BoxTypeOpus():
			codec = codecOpus
			return nil, nil
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			_, _ = h.Expand()
		}
		return nil, nil
	})
	return codec
}

func findAudioTrack(info *gomp4.ProbeInfo, codec audioCodec) (*gomp4.Track, error) {
	if codec == codecAAC {
		for _, t := range info.Tracks {
			if t.Codec == gomp4.CodecMP4A {
				return t, nil
			}
		}
	}
	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 {
			continue
		}
		if len(t.Samples) == 0 || len(t.Chunks) == 0 {
			continue
		}
		if isAudioTimescale(t.Timescale) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no audio track found (%d tracks)", len(info.Tracks))
}

func isAudioTimescale(ts uint32) bool {
	switch ts {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

func buildSampleLocations(track *gomp4.Track) []sampleLoc {
	result := make([]sampleLoc, 0, len(track.Samples))
	sampleIdx := 0
	for _, chunk := range track.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk; j++ {
			if sampleIdx >= len(track.Samples) {
				return result
			}
			sz := track.Samples[sampleIdx].Size
			result = append(result, sampleLoc{offset: off, size: sz})
			off += uint64(sz)
			sampleIdx++
		}
	}
	return result
}

func decodeAACFull(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) ([][]float32, int, error) {
	asc, err := getAudioSpecificConfig(rs)
	if err != nil {
		return nil, 0, fmt.Errorf("get AudioSpecificConfig: %w", err)
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, 0, fmt.Errorf("set ASC: %w", err)
	}
	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}
	channels := dec.Config.ChanConfig
	if channels < 1 {
		channels = 1
	}

	samples := buildSampleLocations(track)
	chans := make([][]float32, channels)
	for c := range chans {
		chans[c] = make([]float32, 0, sampleRate*60)
	}

	var maxRawSize uint32
	for _, loc := range samples {
		if loc.size > maxRawSize {
			maxRawSize = loc.size
		}
	}
	rawBuf := make([]byte, maxRawSize)

	for _, loc := range samples {
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		pcm, err := dec.DecodeFrame(raw)
		if err != nil {
			drainWarn("mp4 aac frame", err)
			continue
		}
		frameLen := len(pcm) / channels
		for i := 0; i < frameLen; i++ {
			for ch := 0; ch < channels; ch++ {
				chans[ch] = append(chans[ch], pcm[i*channels+ch])
			}
		}
	}
	return chans, sampleRate, nil
}

func getAudioSpecificConfig(rs io.ReadSeeker) ([]byte, error) {
	paths := []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeWave(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeEnca(), gomp4.BoxTypeEsds()},
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	bips, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("extract esds: %w", err)
	}
	for _, bip := range bips {
		if bip.Info.Type != gomp4.BoxTypeEsds() {
			continue
		}
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("AudioSpecificConfig not found in esds")
}

func decodeOpusFull(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) ([][]float32, int, error) {
	decoderRate := sampleRate
	switch decoderRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		decoderRate = 48000
	}

	dec, err := concentus.NewOpusDecoder(decoderRate, 2)
	if err != nil {
		return nil, 0, fmt.Errorf("create opus decoder: %w", err)
	}

	samples := buildSampleLocations(track)
	var maxRawSize uint32
	for _, loc := range samples {
		if loc.size > maxRawSize {
			maxRawSize = loc.size
		}
	}
	rawBuf := make([]byte, maxRawSize)
	pcm16 := make([]int16, 5760*2)

	left := make([]float32, 0, decoderRate*60)
	right := make([]float32, 0, decoderRate*60)

	for _, loc := range samples {
		if loc.size <= 3 {
			continue
		}
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		n, err := dec.Decode(raw, 0, len(raw), pcm16, 0, 5760, false)
		if err != nil {
			drainWarn("mp4 opus frame", err)
			continue
		}
		for i := 0; i < n; i++ {
			left = append(left, float32(pcm16[i*2])/32768.0)
			right = append(right, float32(pcm16[i*2+1])/32768.0)
		}
	}

	return [][]float32{left, right}, decoderRate, nil
}
