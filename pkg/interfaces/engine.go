// pkg/interfaces/engine.go
package interfaces

// Engine 是控制器使用的音频引擎契约。
// 所有调用都是同步的；引擎内部自行管理实时音频线程。
type Engine interface {
	// CreateEngine 按平台参数分配缓冲区与队列
	CreateEngine(sampleRate, framesPerBuf int) error
	DeleteEngine() error

	CreatePlayer() error
	DeletePlayer()

	CreateRecorder() error
	DeleteRecorder()

	// CreateDecoder 的 uri 为原始字节形式的文件路径
	CreateDecoder(uri []byte) error
	DeleteDecoder()

	// StartSession 启动播放，并根据已创建的资源启动录音或解码
	StartSession() error
	// StopSession 停止会话并释放播放器、录音器与解码器
	StopSession()
}
