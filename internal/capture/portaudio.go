package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
	"github.com/satindergrewal/phonoscope/internal/logging"
)

var log = logging.L("capture")

// PortAudio captures from system inputs through the PortAudio library.
type PortAudio struct {
	sampleRate      int
	channels        int
	framesPerBuffer int
}

// OpenPortAudio initializes PortAudio. Call Close when done.
func OpenPortAudio(sampleRate, channels, framesPerBuffer int) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudio{
		sampleRate:      sampleRate,
		channels:        channels,
		framesPerBuffer: framesPerBuffer,
	}, nil
}

// Close terminates PortAudio.
func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

func deviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi != nil {
		return d.HostApi.Name + "/" + d.Name
	}
	return d.Name
}

// Devices lists every PortAudio device with at least one input channel.
func (p *PortAudio) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var devs []Device
	for _, d := range infos {
		if d.MaxInputChannels < 1 {
			continue
		}
		devs = append(devs, Device{ID: deviceID(d), Label: d.Name})
	}
	return labelDevices(devs), nil
}

func (p *PortAudio) lookup(id string) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range infos {
		if d.MaxInputChannels > 0 && deviceID(d) == id {
			return d, nil
		}
	}
	return nil, unknownDevice(id)
}

// Acquire opens and starts an input stream on the device.
func (p *PortAudio) Acquire(ctx context.Context, id string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := p.lookup(id)
	if err != nil {
		return nil, classify(err)
	}

	channels := p.channels
	if channels > dev.MaxInputChannels {
		channels = dev.MaxInputChannels
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(p.sampleRate)
	params.FramesPerBuffer = p.framesPerBuffer

	buf := make([]float32, p.framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify(err)
	}

	log.Info("input stream opened", logging.KeyDevice, id, "rate", p.sampleRate, "channels", channels)
	return &paSource{
		id:         id,
		stream:     stream,
		buf:        buf,
		sampleRate: p.sampleRate,
		channels:   channels,
	}, nil
}

// classify maps PortAudio failures onto the device error taxonomy.
func classify(err error) error {
	if errors.Is(err, apperrors.ErrDeviceUnavailable) || errors.Is(err, apperrors.ErrPermissionDenied) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return apperrors.NewStageError("capture", "acquire", fmt.Errorf("%w: %v", apperrors.ErrPermissionDenied, err))
	}
	return apperrors.NewStageError("capture", "acquire", fmt.Errorf("%w: %v", apperrors.ErrDeviceUnavailable, err))
}

func unknownDevice(id string) error {
	return fmt.Errorf("%w: unknown device %q", apperrors.ErrDeviceUnavailable, id)
}

type paSource struct {
	id         string
	stream     *portaudio.Stream
	sampleRate int
	channels   int

	mu      sync.Mutex
	buf     []float32 // filled by stream.Read
	pending []float32 // unread tail of buf
	closed  bool
	once    sync.Once
}

func (s *paSource) SampleRate() int { return s.sampleRate }
func (s *paSource) Channels() int   { return s.channels }

func (s *paSource) Read(dst []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(s.pending) == 0 {
		if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, classify(err)
		}
		s.pending = s.buf
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *paSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		log.Info("input stream released", logging.KeyDevice, s.id)
	})
	return err
}
