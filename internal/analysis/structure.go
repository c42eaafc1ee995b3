package analysis

import (
	"errors"
	"math"

	"github.com/soundforge/djengine/internal/types"
)

// ErrTooShort is returned by Structure when the track is too short to
// segment meaningfully.
var ErrTooShort = errors.New("analysis: track too short for structure detection")

const (
	structureWindow = 4096
	structureHop    = 2048

	defaultIntroOutroBeats = 16
	scanBeats              = 32
	minMainBeats           = 8
)

// Structure segments mono PCM into intro/main/outro sections and derives a
// beat grid and hot cues, following spec §4.2.
func Structure(mono []float32, sampleRate int, bpm float64) (*types.TrackStructure, error) {
	if bpm <= 0 || sampleRate <= 0 {
		return nil, ErrTooShort
	}
	duration := float64(len(mono)) / float64(sampleRate)
	if duration < minAnalysableSeconds {
		return nil, ErrTooShort
	}

	beatDur := 60.0 / bpm
	grid := beatGrid(duration, beatDur)

	envelope := windowedRMS(mono, structureWindow, structureHop)
	envelope = boxcarSmooth(envelope, 5)
	meanEnv := mean(envelope)
	hopSeconds := float64(structureHop) / float64(sampleRate)

	introEnd := scanIntroEnd(envelope, hopSeconds, meanEnv, beatDur, grid)
	outroStart := scanOutroStart(envelope, hopSeconds, meanEnv, beatDur, grid, duration)

	if outroStart-introEnd < float64(minMainBeats)*beatDur {
		introEnd = math.Min(float64(defaultIntroOutroBeats)*beatDur, duration/3)
		outroStart = math.Max(duration-float64(defaultIntroOutroBeats)*beatDur, duration*2/3)
		introEnd = snapToBeat(introEnd, grid)
		outroStart = snapToBeat(outroStart, grid)
	}

	intro := types.Section{Start: 0, End: introEnd, Beats: beatsIn(0, introEnd, beatDur)}
	main := types.Section{Start: introEnd, End: outroStart, Beats: beatsIn(introEnd, outroStart, beatDur)}
	outro := types.Section{Start: outroStart, End: duration, Beats: beatsIn(outroStart, duration, beatDur)}

	hotCues := []float64{0, intro.End, outro.Start}
	if duration > 120 {
		hotCues = append(hotCues, duration/2)
	}

	return &types.TrackStructure{
		BPM:     bpm,
		Beats:   grid,
		Intro:   intro,
		Main:    main,
		Outro:   outro,
		HotCues: hotCues,
	}, nil
}

// beatGrid returns a strictly increasing sequence of beat timestamps
// covering [0, duration] at the given beat duration.
func beatGrid(duration, beatDur float64) []float64 {
	n := int(duration/beatDur) + 1
	grid := make([]float64, 0, n)
	for t := 0.0; t <= duration; t += beatDur {
		grid = append(grid, t)
	}
	return grid
}

func beatsIn(start, end, beatDur float64) int {
	if end <= start || beatDur <= 0 {
		return 0
	}
	return int(math.Round((end - start) / beatDur))
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// snapToBeat rounds t to the nearest entry in grid.
func snapToBeat(t float64, grid []float64) float64 {
	if len(grid) == 0 {
		return t
	}
	best := grid[0]
	bestDist := math.Abs(t - best)
	for _, g := range grid[1:] {
		d := math.Abs(t - g)
		if d < bestDist {
			bestDist = d
			best = g
		}
	}
	return best
}

// scanIntroEnd scans the first scanBeats beats for an energy jump of at
// least 1.5x the value 5 frames prior that also exceeds 0.8x the track
// mean, snapping the result to the nearest beat.
func scanIntroEnd(envelope []float64, hopSeconds, meanEnv, beatDur float64, grid []float64) float64 {
	limit := float64(scanBeats) * beatDur
	for i := 5; i < len(envelope); i++ {
		t := float64(i) * hopSeconds
		if t > limit {
			break
		}
		if envelope[i-5] <= 0 {
			continue
		}
		if envelope[i] >= 1.5*envelope[i-5] && envelope[i] > 0.8*meanEnv {
			return snapToBeat(t, grid)
		}
	}
	return snapToBeat(math.Min(float64(defaultIntroOutroBeats)*beatDur, limit), grid)
}

// scanOutroStart scans the last scanBeats beats in reverse for a drop to
// <=0.7x of the local maximum and <=0.6x the track mean.
func scanOutroStart(envelope []float64, hopSeconds, meanEnv, beatDur float64, grid []float64, duration float64) float64 {
	limit := duration - float64(scanBeats)*beatDur
	localMax := 0.0
	for i := len(envelope) - 1; i >= 0; i-- {
		t := float64(i) * hopSeconds
		if t < limit {
			break
		}
		if envelope[i] > localMax {
			localMax = envelope[i]
		}
		if localMax > 0 && envelope[i] <= 0.7*localMax && envelope[i] <= 0.6*meanEnv {
			return snapToBeat(t, grid)
		}
	}
	return snapToBeat(math.Max(duration-float64(defaultIntroOutroBeats)*beatDur, 0), grid)
}
