package audio

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hraban/opus"
)

// opusSampleRate 是opusfile固定的输出采样率
const opusSampleRate = 48000

// opusReader 解码Ogg Opus文件，声道数取自OpusHead
type opusReader struct {
	file     *os.File
	stream   *opus.Stream
	channels int
}

// opusHeadChannels 解析OpusHead包中的声道数(第10字节)
func opusHeadChannels(pkt []byte) (int, error) {
	if len(pkt) < 10 || !bytes.HasPrefix(pkt, []byte("OpusHead")) {
		return 0, fmt.Errorf("%w: missing OpusHead", ErrUnsupportedFormat)
	}
	channels := int(pkt[9])
	if channels == 0 {
		return 0, fmt.Errorf("%w: opus stream with 0 channels", ErrInvalidFormat)
	}
	return channels, nil
}

func openOpus(path string) (*opusReader, error) {
	head, err := readHead(path, oggHeadSize)
	if err != nil {
		return nil, err
	}
	pkt, ok := oggFirstPacket(head)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ogg page", ErrUnsupportedFormat)
	}
	channels, err := opusHeadChannels(pkt)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stream, err := opus.NewStream(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create opus stream: %w", err)
	}

	return &opusReader{
		file:     file,
		stream:   stream,
		channels: channels,
	}, nil
}

func (o *opusReader) SampleRate() int { return opusSampleRate }
func (o *opusReader) Channels() int   { return o.channels }

// ReadSamples 返回样本总数(每声道样本数×声道数)
func (o *opusReader) ReadSamples(pcm []int16) (int, error) {
	pcm = pcm[:len(pcm)-len(pcm)%o.channels]
	if len(pcm) == 0 {
		return 0, nil
	}
	n, err := o.stream.Read(pcm)
	return n * o.channels, err
}

// Close 同时关闭底层文件(opus.Stream会关闭实现了io.Closer的reader)
func (o *opusReader) Close() error {
	err := o.stream.Close()
	_ = o.file.Close()
	return err
}
