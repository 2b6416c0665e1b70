package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineCreateFailed 是引擎资源创建失败的统一类别
	ErrEngineCreateFailed = errors.New("engine resource creation failed")

	ErrPlayerCreate   = fmt.Errorf("%w: player", ErrEngineCreateFailed)
	ErrRecorderCreate = fmt.Errorf("%w: recorder", ErrEngineCreateFailed)
	ErrDecoderCreate  = fmt.Errorf("%w: decoder", ErrEngineCreateFailed)
	ErrSessionStart   = errors.New("session start failed")

	ErrInvalidParameters = errors.New("invalid audio parameters")
	ErrNotInitialized    = errors.New("controller not initialized")
	ErrShutdown          = errors.New("controller shut down")
)
