//go:build opus

package audio

import (
	"encoding/binary"

	"github.com/hraban/opus"
)

// maxFrameSamples is the largest opus frame (120ms at 48kHz) per channel.
const maxFrameSamples = 5760

// OpusDecoder converts opus packets to PCM16LE.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode returns the packet's samples as little-endian 16-bit PCM bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm := make([]int16, maxFrameSamples*d.channels)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, err
	}
	samples := pcm[:n*d.channels]
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}
