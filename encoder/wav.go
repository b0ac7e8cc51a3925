package encoder

import (
	"bytes"
	"encoding/binary"
)

const WAVHeaderSize = 44

// WavEncoder buffers samples and emits a canonical PCM WAV on Close.
type WavEncoder struct {
	data   bytes.Buffer
	out    []byte
	frames uint64
}

func NewWav() *WavEncoder { return &WavEncoder{} }

func (e *WavEncoder) EncodeBlock(block []int16) error {
	return binary.Write(&e.data, binary.LittleEndian, block)
}

func (e *WavEncoder) Close() error {
	e.frames = uint64(e.data.Len() / 2)
	e.out = append(WAVHeader(e.data.Len()), e.data.Bytes()...)
	return nil
}

func (e *WavEncoder) Bytes() []byte { return e.out }

func (e *WavEncoder) TotalFrames() uint64 { return e.frames }

// WAVHeader builds a 44-byte header for dataSize bytes of 16 kHz mono PCM16.
func WAVHeader(dataSize int) []byte {
	buf := make([]byte, WAVHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
