// Package capture is the boundary to the system's audio input devices.
package capture

import (
	"context"
	"fmt"
)

// Device is an audio input as presented to the user.
type Device struct {
	ID    string `json:"device_id"`
	Label string `json:"label"`
}

// Enumerator lists the audio inputs available on this system.
type Enumerator interface {
	Devices() ([]Device, error)
}

// Acquirer opens a live capture session on a device. Implementations return
// errors wrapping apperrors.ErrPermissionDenied or apperrors.ErrDeviceUnavailable.
type Acquirer interface {
	Acquire(ctx context.Context, deviceID string) (Source, error)
}

// Source is a live, interleaved float32 capture stream.
type Source interface {
	SampleRate() int
	Channels() int
	// Read blocks until samples are available and copies them into buf,
	// returning the number of samples written. It returns io.EOF once the
	// source has been closed.
	Read(buf []float32) (int, error)
	// Close releases the underlying hardware. Safe to call more than once.
	Close() error
}

// labelDevices fills empty labels with "Microphone N".
func labelDevices(devs []Device) []Device {
	for i := range devs {
		if devs[i].Label == "" {
			devs[i].Label = fmt.Sprintf("Microphone %d", i+1)
		}
	}
	return devs
}

// Multi combines several backends. Devices are listed in backend order and
// Acquire dispatches to the first backend that lists the requested ID.
type Multi []Backend

// Backend is a device source that can both list and open devices.
type Backend interface {
	Enumerator
	Acquirer
}

func (m Multi) Devices() ([]Device, error) {
	var all []Device
	for _, b := range m {
		devs, err := b.Devices()
		if err != nil {
			return nil, err
		}
		all = append(all, devs...)
	}
	return all, nil
}

func (m Multi) Acquire(ctx context.Context, deviceID string) (Source, error) {
	for _, b := range m {
		devs, err := b.Devices()
		if err != nil {
			continue
		}
		for _, d := range devs {
			if d.ID == deviceID {
				return b.Acquire(ctx, deviceID)
			}
		}
	}
	return nil, unknownDevice(deviceID)
}
