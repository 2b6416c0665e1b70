package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// pollInterval 是暂停状态下重新检查录音队列的间隔，防止丢失唤醒
const pollInterval = 20 * time.Millisecond

// decoder 在独立goroutine中把铃声解码进空闲缓冲区并推入录音队列。
// 录音队列达到高水位时暂停，播放器低水位时唤醒；文件结束后等待播放器
// 排空队列再从头开始，直到会话停止。
type decoder struct {
	free chan *sampleBuf
	rec  chan *sampleBuf
	open func() (Source, error)
	src  Source

	highWater int
	kickAt    int
	kick      func()

	// onFinished 在读到文件末尾时调用
	onFinished func()

	wakeCh    chan struct{}
	restartCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}

	logger *slog.Logger

	queued   int
	restarts atomic.Uint64
}

func newDecoder(free, rec chan *sampleBuf, open func() (Source, error), logger *slog.Logger) (*decoder, error) {
	src, err := open()
	if err != nil {
		return nil, err
	}
	return &decoder{
		free:      free,
		rec:       rec,
		open:      open,
		src:       src,
		wakeCh:    make(chan struct{}, 1),
		restartCh: make(chan struct{}, 1),
		logger:    logger,
	}, nil
}

// wake 恢复暂停的解码，可在设备线程中调用
func (d *decoder) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// restart 请求从头重新解码，可在设备线程中调用
func (d *decoder) restart() {
	select {
	case d.restartCh <- struct{}{}:
	default:
	}
}

func (d *decoder) start() {
	d.queued = 0
	// 丢弃上一次会话残留的信号
	select {
	case <-d.restartCh:
	default:
	}
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	go d.run()
}

func (d *decoder) stop() {
	if d.done == nil {
		return
	}
	close(d.stopCh)
	<-d.done
	d.done = nil
}

func (d *decoder) close() error {
	d.stop()
	if d.src == nil {
		return nil
	}
	err := d.src.Close()
	d.src = nil
	return err
}

func (d *decoder) run() {
	defer close(d.done)

	for {
		if len(d.rec) >= d.highWater {
			if !d.wait() {
				return
			}
			continue
		}

		var buf *sampleBuf
		select {
		case buf = <-d.free:
		case <-d.stopCh:
			return
		}

		n, err := readFull(d.src.Read, buf.data)
		if n > 0 {
			buf.size = n
			d.rec <- buf
			d.queued++
			if d.queued == d.kickAt && d.kick != nil {
				d.kick()
			}
		} else {
			buf.size = 0
			d.free <- buf
		}

		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			d.logger.Error("Decoding failed", "error", err)
		}

		// 队列中剩余数据少于启动阈值时直接启动播放器
		if d.queued < d.kickAt && d.kick != nil {
			d.kick()
			d.queued = d.kickAt
		}
		if d.onFinished != nil {
			d.onFinished()
		}

		select {
		case <-d.restartCh:
		case <-d.stopCh:
			return
		}
		if !d.reopen() {
			return
		}
	}
}

// wait 在暂停状态等待唤醒，返回false表示已停止
func (d *decoder) wait() bool {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-d.wakeCh:
	case <-timer.C:
	case <-d.stopCh:
		return false
	}
	return true
}

func (d *decoder) reopen() bool {
	if d.src != nil {
		_ = d.src.Close()
		d.src = nil
	}
	src, err := d.open()
	if err != nil {
		d.logger.Error("Failed to restart decoding", "error", err)
		return false
	}
	d.src = src
	n := d.restarts.Add(1)
	d.logger.Debug("Decoding restarted", "restarts", n)
	return true
}
