// Package output negotiates a playback device and drives the periodic
// pull callback that invokes the mixer and writes interleaved float32
// PCM to the device (C7), using gordonklaus/portaudio — the same
// bindings already present in the wider toolchain this codebase shares
// infrastructure with for real-time audio I/O.
package output

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/soundforge/djengine/internal/mixer"
	"github.com/soundforge/djengine/internal/types"
)

// Device describes an enumerated output device.
type Device struct {
	ID                 int
	Name               string
	MaxOutputChannels  int
	SupportsFloat32    bool
}

// Source produces one callback's worth of mixed, routed audio. Engine
// implements this by draining pending commands before delegating to its
// Mixer, under whatever synchronization it needs; Driver itself is
// oblivious to command queues or locking.
type Source interface {
	Process(out []float32) []mixer.Event
}

// Driver owns the negotiated device and its pull-callback stream.
type Driver struct {
	source  Source
	stream  *portaudio.Stream
	device  *portaudio.DeviceInfo
	channels int

	EventsCh chan Event

	stopPoll chan struct{}
}

// Event is emitted to the control plane (device-changed, error, etc).
type Event struct {
	Kind   string
	Detail string
}

// New constructs a Driver that pulls from src. Call Start to actually
// open and begin the stream.
func New(src Source) *Driver {
	return &Driver{
		source:   src,
		EventsCh: make(chan Event, 32),
		stopPoll: make(chan struct{}),
	}
}

// Init initialises the portaudio runtime. Must be called once before any
// Driver is started, and Terminate must be called at shutdown.
func Init() error {
	return portaudio.Initialize()
}

// Terminate releases the portaudio runtime.
func Terminate() error {
	return portaudio.Terminate()
}

// ListDevices enumerates available output-capable devices.
func ListDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("output: enumerate devices: %w", err)
	}
	var out []Device
	for i, info := range infos {
		if info.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			ID:                i,
			Name:              info.Name,
			MaxOutputChannels: info.MaxOutputChannels,
			SupportsFloat32:   true, // portaudio negotiates sample format at stream-open time
		})
	}
	return out, nil
}

// SelectDevice implements the device-selection policy from spec §4.7:
// prefer the configured device id if it exists and supports >=2 output
// channels; otherwise prefer a known multi-channel device (>=4), else
// the first float32-capable device.
func SelectDevice(configuredID int, devices []Device) (Device, error) {
	if configuredID >= 0 {
		for _, d := range devices {
			if d.ID == configuredID && d.MaxOutputChannels >= 2 {
				return d, nil
			}
		}
	}
	for _, d := range devices {
		if d.MaxOutputChannels >= 4 {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.SupportsFloat32 {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("output: no suitable device available")
}

// RequiredChannels computes the channel count needed to satisfy the
// routing, per spec §4.7: max(2, 1+max(used indices)), clamped to the
// device's max. If the routing exceeds the device, it returns 2 channels
// and a fallback routing of stereo main {0,1} with cue unrouted.
func RequiredChannels(routing types.ChannelRouting, deviceMax int) (int, types.ChannelRouting) {
	maxIdx := -1
	for _, idx := range []int{routing.MainL, routing.MainR, routing.CueL, routing.CueR} {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	required := maxIdx + 1
	if required < 2 {
		required = 2
	}
	if required > deviceMax {
		return 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted}
	}
	return required, routing
}

// Start opens the stream with a fixed block of mixer.BufferFrames and begins
// pulling from the mixer. deviceID selects among portaudio's host device
// list; channels is the negotiated output channel count.
func (d *Driver) Start(deviceID, channels int) error {
	infos, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("output: enumerate devices: %w", err)
	}
	if deviceID < 0 || deviceID >= len(infos) {
		return fmt.Errorf("output: device id %d out of range", deviceID)
	}
	info := infos[deviceID]
	d.device = info
	d.channels = channels

	params := portaudio.HighLatencyParameters(nil, info)
	params.Output.Channels = channels
	params.SampleRate = 44100
	// Pinned to the mixer's fixed block size: route/routeCue index
	// out[0:BufferFrames) unconditionally and would run out of bounds on
	// a smaller negotiated buffer.
	params.FramesPerBuffer = mixer.BufferFrames

	stream, err := portaudio.OpenStream(params, d.callback)
	if err != nil {
		return fmt.Errorf("output: open stream: %w", err)
	}
	d.stream = stream

	if err := stream.Start(); err != nil {
		return fmt.Errorf("output: start stream: %w", err)
	}

	go d.pollDeviceList()
	return nil
}

// callback is invoked by portaudio on its real-time thread. It never
// blocks and delegates rendering to the source; it allocates only to
// format the detail of an event the source reports.
func (d *Driver) callback(out []float32) {
	events := d.source.Process(out)
	for _, ev := range events {
		select {
		case d.EventsCh <- Event{Kind: ev.Kind, Detail: fmt.Sprintf("deck=%d", ev.Deck)}:
		default:
		}
	}
}

// pollDeviceList watches the device count every 2s and emits
// device-changed on change, per spec §4.7.
func (d *Driver) pollDeviceList() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastCount := -1
	for {
		select {
		case <-d.stopPoll:
			return
		case <-ticker.C:
			infos, err := portaudio.Devices()
			if err != nil {
				continue
			}
			if lastCount != -1 && len(infos) != lastCount {
				slog.Info("output: device list changed", "count", len(infos))
				select {
				case d.EventsCh <- Event{Kind: "device-changed"}:
				default:
				}
			}
			lastCount = len(infos)
		}
	}
}

// Stop halts the stream and releases device resources.
func (d *Driver) Stop() error {
	close(d.stopPoll)
	if d.stream == nil {
		return nil
	}
	if err := d.stream.Stop(); err != nil {
		return err
	}
	return d.stream.Close()
}
