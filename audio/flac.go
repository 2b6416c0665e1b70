package audio

import (
	"errors"
	"io"

	"github.com/mewkiz/flac"
)

// flacReader 逐帧解码FLAC并交错输出
type flacReader struct {
	stream  *flac.Stream
	pending []int16
	pos     int
}

func openFLAC(path string) (*flacReader, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, err
	}
	return &flacReader{stream: stream}, nil
}

func (f *flacReader) SampleRate() int { return int(f.stream.Info.SampleRate) }
func (f *flacReader) Channels() int   { return int(f.stream.Info.NChannels) }

func (f *flacReader) ReadSamples(pcm []int16) (int, error) {
	n := 0
	for n < len(pcm) {
		if f.pos >= len(f.pending) {
			if err := f.next(); err != nil {
				if n > 0 && errors.Is(err, io.EOF) {
					return n, nil
				}
				return n, err
			}
		}
		c := copy(pcm[n:], f.pending[f.pos:])
		n += c
		f.pos += c
	}
	return n, nil
}

func (f *flacReader) next() error {
	frame, err := f.stream.ParseNext()
	if err != nil {
		return err
	}
	channels := len(frame.Subframes)
	if channels == 0 {
		return io.EOF
	}
	samples := len(frame.Subframes[0].Samples)
	bps := int(f.stream.Info.BitsPerSample)

	need := samples * channels
	if cap(f.pending) < need {
		f.pending = make([]int16, need)
	}
	f.pending = f.pending[:need]
	for i := 0; i < samples; i++ {
		for ch, sub := range frame.Subframes {
			f.pending[i*channels+ch] = scaleTo16(int(sub.Samples[i]), bps)
		}
	}
	f.pos = 0
	return nil
}

func (f *flacReader) Close() error {
	return f.stream.Close()
}
