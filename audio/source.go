package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
)

// SourceOptions 控制铃声文件的解码方式
type SourceOptions struct {
	// ResampleQuality 传给beep.Resample，范围1-64
	ResampleQuality int
}

func (o SourceOptions) withDefaults() SourceOptions {
	if o.ResampleQuality < 1 {
		o.ResampleQuality = 4
	}
	if o.ResampleQuality > 64 {
		o.ResampleQuality = 64
	}
	return o
}

// frameReader 是某种文件格式的原始PCM读取器
type frameReader interface {
	SampleRate() int
	Channels() int
	// ReadSamples 读取交错样本，结束时返回io.EOF
	ReadSamples(pcm []int16) (int, error)
	Close() error
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatWAV
	formatFLAC
	formatOpus
	formatVorbis
)

func (f fileFormat) String() string {
	switch f {
	case formatWAV:
		return "wav"
	case formatFLAC:
		return "flac"
	case formatOpus:
		return "opus"
	case formatVorbis:
		return "vorbis"
	default:
		return "unknown"
	}
}

// oggHeadSize 足够容纳Ogg首页的页头、段表和编码头
const oggHeadSize = 512

// detectFormat 优先按文件头判断，其次按扩展名。Ogg文件按首个包的编码头区分Opus与Vorbis。
func detectFormat(path string) (fileFormat, error) {
	head, err := readHead(path, oggHeadSize)
	if err != nil {
		return formatUnknown, err
	}

	switch {
	case bytes.HasPrefix(head, []byte("RIFF")):
		return formatWAV, nil
	case bytes.HasPrefix(head, []byte("fLaC")):
		return formatFLAC, nil
	case bytes.HasPrefix(head, []byte("OggS")):
		return oggCodec(head)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return formatWAV, nil
	case ".flac":
		return formatFLAC, nil
	case ".opus":
		return formatOpus, nil
	case ".ogg", ".oga":
		return formatVorbis, nil
	}
	return formatUnknown, ErrUnsupportedFormat
}

// readHead 读取文件开头最多n个字节
func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:read], nil
}

// oggFirstPacket 返回Ogg首页中第一个包的数据(可能被oggHeadSize截断)
func oggFirstPacket(page []byte) ([]byte, bool) {
	const headerLen = 27
	if len(page) < headerLen || !bytes.HasPrefix(page, []byte("OggS")) {
		return nil, false
	}
	start := headerLen + int(page[26])
	if len(page) < start {
		return nil, false
	}

	size := 0
	for _, lacing := range page[headerLen:start] {
		size += int(lacing)
		if lacing < 255 {
			break
		}
	}
	return page[start:min(start+size, len(page))], true
}

func oggCodec(page []byte) (fileFormat, error) {
	pkt, ok := oggFirstPacket(page)
	switch {
	case !ok:
		return formatUnknown, fmt.Errorf("%w: truncated ogg page", ErrUnsupportedFormat)
	case bytes.HasPrefix(pkt, []byte("OpusHead")):
		return formatOpus, nil
	case bytes.HasPrefix(pkt, []byte("\x01vorbis")):
		return formatVorbis, nil
	}
	return formatUnknown, fmt.Errorf("%w: unknown ogg codec", ErrUnsupportedFormat)
}

func openFrameReader(path string) (frameReader, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case formatWAV:
		return openWAV(path)
	case formatFLAC:
		return openFLAC(path)
	case formatOpus:
		return openOpus(path)
	case formatVorbis:
		return openVorbis(path)
	}
	return nil, ErrUnsupportedFormat
}

// OpenSource 打开铃声文件并转换为给定采样率和声道数
func OpenSource(path string, sampleRate, channels int, opts SourceOptions) (Source, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, ErrInvalidFormat
	}
	opts = opts.withDefaults()

	r, err := openFrameReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if r.SampleRate() <= 0 || r.Channels() <= 0 {
		r.Close()
		return nil, fmt.Errorf("open %s: %w", path, ErrInvalidFormat)
	}

	var st beep.Streamer = &frameStreamer{r: r, channels: r.Channels()}
	if r.SampleRate() != sampleRate {
		st = beep.Resample(opts.ResampleQuality, beep.SampleRate(r.SampleRate()), beep.SampleRate(sampleRate), st)
	}
	return &pcmSource{streamer: st, reader: r, channels: channels}, nil
}

// frameStreamer 把frameReader适配为beep.Streamer
type frameStreamer struct {
	r        frameReader
	channels int
	scratch  []int16
	err      error
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	need := len(samples) * s.channels
	if cap(s.scratch) < need {
		s.scratch = make([]int16, need)
	}
	buf := s.scratch[:need]

	n, err := readFull(s.r.ReadSamples, buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}

	frames := n / s.channels
	for i := 0; i < frames; i++ {
		if s.channels == 1 {
			v := float64(buf[i]) / 32768
			samples[i] = [2]float64{v, v}
			continue
		}
		samples[i][0] = float64(buf[i*s.channels]) / 32768
		samples[i][1] = float64(buf[i*s.channels+1]) / 32768
	}
	if frames == 0 {
		return 0, false
	}
	return frames, true
}

func (s *frameStreamer) Err() error {
	return s.err
}

// pcmSource 把beep立体声浮点流转换为引擎格式
type pcmSource struct {
	streamer beep.Streamer
	reader   frameReader
	channels int
	frames   [][2]float64
}

func (p *pcmSource) Read(pcm []int16) (int, error) {
	want := len(pcm) / p.channels
	if want == 0 {
		return 0, nil
	}
	if cap(p.frames) < want {
		p.frames = make([][2]float64, want)
	}
	frames := p.frames[:want]

	n, ok := p.streamer.Stream(frames)
	for i := 0; i < n; i++ {
		l, r := frames[i][0], frames[i][1]
		switch p.channels {
		case 1:
			pcm[i] = toInt16((l + r) / 2)
		default:
			base := i * p.channels
			pcm[base] = toInt16(l)
			pcm[base+1] = toInt16(r)
			for c := 2; c < p.channels; c++ {
				pcm[base+c] = 0
			}
		}
	}

	if !ok || n == 0 {
		if err := p.streamer.Err(); err != nil {
			return n * p.channels, err
		}
		return n * p.channels, io.EOF
	}
	return n * p.channels, nil
}

func (p *pcmSource) Close() error {
	return p.reader.Close()
}

func toInt16(v float64) int16 {
	v *= 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// readFull 反复调用read直到buf填满或出错
func readFull(read func([]int16) (int, error), buf []int16) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}
