package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/vorbis"
)

// vorbisReader 把beep的Ogg Vorbis流转换为交错16位样本。
// beep最多提供两个声道，更多声道的文件按立体声读取。
type vorbisReader struct {
	stream   beep.StreamCloser
	rate     int
	channels int
	frames   [][2]float64
}

func openVorbis(path string) (*vorbisReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, format, err := vorbis.Decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return newVorbisReader(stream, format), nil
}

func newVorbisReader(stream beep.StreamCloser, format beep.Format) *vorbisReader {
	return &vorbisReader{
		stream:   stream,
		rate:     int(format.SampleRate),
		channels: min(max(format.NumChannels, 1), 2),
	}
}

func (v *vorbisReader) SampleRate() int { return v.rate }
func (v *vorbisReader) Channels() int   { return v.channels }

func (v *vorbisReader) ReadSamples(pcm []int16) (int, error) {
	want := len(pcm) / v.channels
	if want == 0 {
		return 0, nil
	}
	if cap(v.frames) < want {
		v.frames = make([][2]float64, want)
	}
	frames := v.frames[:want]

	n, ok := v.stream.Stream(frames)
	for i := 0; i < n; i++ {
		if v.channels == 1 {
			pcm[i] = toInt16(frames[i][0])
			continue
		}
		pcm[i*2] = toInt16(frames[i][0])
		pcm[i*2+1] = toInt16(frames[i][1])
	}

	if !ok || n == 0 {
		if err := v.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			return n * v.channels, err
		}
		return n * v.channels, io.EOF
	}
	return n * v.channels, nil
}

func (v *vorbisReader) Close() error {
	return v.stream.Close()
}
