package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavReader 读取PCM WAV文件，8/16/24/32位统一转换为16位
type wavReader struct {
	file *os.File
	dec  *wav.Decoder
	buf  *goaudio.IntBuffer
}

func openWAV(path string) (*wavReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		file.Close()
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, dec.BitDepth)
	}

	return &wavReader{
		file: file,
		dec:  dec,
		buf:  &goaudio.IntBuffer{Format: dec.Format()},
	}, nil
}

func (w *wavReader) SampleRate() int { return int(w.dec.SampleRate) }
func (w *wavReader) Channels() int   { return int(w.dec.NumChans) }

func (w *wavReader) ReadSamples(pcm []int16) (int, error) {
	if cap(w.buf.Data) < len(pcm) {
		w.buf.Data = make([]int, len(pcm))
	}
	w.buf.Data = w.buf.Data[:len(pcm)]

	n, err := w.dec.PCMBuffer(w.buf)
	for i := 0; i < n; i++ {
		pcm[i] = scaleTo16(w.buf.Data[i], int(w.dec.BitDepth))
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, err
	}
	if n == 0 || err != nil {
		return n, io.EOF
	}
	return n, nil
}

func (w *wavReader) Close() error {
	return w.file.Close()
}

// scaleTo16 把任意位深的整数样本转换为16位，8位WAV为无符号
func scaleTo16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(v << (16 - bitDepth))
	default:
		return int16(v)
	}
}
