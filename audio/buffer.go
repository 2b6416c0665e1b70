package audio

// sampleBuf 是固定容量的16位PCM缓冲区，size为有效样本数
type sampleBuf struct {
	data []int16
	size int
}

func allocateSampleBufs(count, samples int) []*sampleBuf {
	bufs := make([]*sampleBuf, count)
	for i := range bufs {
		bufs[i] = &sampleBuf{data: make([]int16, samples)}
	}
	return bufs
}

// drainInto 把src中的缓冲区全部移入dst，只在没有设备回调运行时调用
func drainInto(dst, src chan *sampleBuf) {
	for {
		select {
		case buf := <-src:
			buf.size = 0
			dst <- buf
		default:
			return
		}
	}
}
