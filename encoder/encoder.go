package encoder

import (
	"encoding/binary"
	"fmt"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// PCMContentType tags raw little-endian 16-bit mono capture data.
const PCMContentType = "audio/pcm;rate=16000;channels=1"

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

func New(format string) (Encoder, error) {
	switch format {
	case "flac":
		return NewFlac()
	case "wav":
		return NewWav(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// ContentType returns the MIME type and file extension for an upload format.
func ContentType(format string) (mime, ext string) {
	switch format {
	case "flac":
		return "audio/flac", "flac"
	case "wav":
		return "audio/wav", "wav"
	default:
		return "application/octet-stream", "pcm"
	}
}

// Samples decodes little-endian PCM16. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Encode feeds pcm through enc in BlockSize blocks and returns the
// finished stream.
func Encode(enc Encoder, pcm []byte) ([]byte, error) {
	samples := Samples(pcm)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
