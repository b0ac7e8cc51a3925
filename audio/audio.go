package audio

import (
	"errors"
	"fmt"
	"strings"

	"inboxpal/encoder"
)

var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrDeviceBusy        = fmt.Errorf("%w: already in use", ErrDeviceUnavailable)
)

// PCMContentType tags payloads assembled from live capture.
const PCMContentType = encoder.PCMContentType

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultConfig is the capture format every backend is opened with.
var DefaultConfig = CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Chunk is one fragment of captured audio as delivered by the device.
type Chunk []byte

// Payload is a whole recording ready for dispatch.
type Payload struct {
	Data        []byte
	ContentType string
}

func (p Payload) Len() int { return len(p.Data) }

// IsPCM reports whether the payload is raw capture data.
func (p Payload) IsPCM() bool {
	return strings.HasPrefix(p.ContentType, "audio/pcm")
}

// Assemble concatenates chunks in order.
func Assemble(chunks []Chunk, contentType string) Payload {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	data := make([]byte, 0, n)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return Payload{Data: data, ContentType: contentType}
}

// FindDevice looks a device up by name, case-insensitively. An empty
// name selects the system default (nil).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	for i := range devices {
		if strings.EqualFold(devices[i].Name, name) || devices[i].ID == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device named %q", ErrDeviceUnavailable, name)
}
