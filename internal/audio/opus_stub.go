//go:build !opus

package audio

import "errors"

// Stub for builds without libopus. The real implementation is in opus.go,
// built with the `opus` tag.

type OpusDecoder struct{}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	return nil, errors.New("opus support not compiled in, rebuild with -tags opus")
}

func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	return nil, errors.New("opus support not compiled in")
}
