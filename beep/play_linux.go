//go:build linux

package beep

import (
	"encoding/binary"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

func playCue(c Cue) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("inboxpal"))
	if err != nil {
		return
	}
	defer client.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := 0
		for n < len(buf) && pos+1 < len(c) {
			buf[n] = int16(binary.LittleEndian.Uint16(c[pos:]))
			pos += 2
			n++
		}
		if n == 0 {
			return 0, pulse.EndOfData
		}
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
	stream.Stop()
}
