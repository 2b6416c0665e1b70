package platform

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

var (
	ErrUnsupportedURI  = errors.New("unsupported ringtone uri")
	ErrRingtoneMissing = errors.New("no ringtone found")
)

// DefaultRingtonePaths 是freedesktop声音主题中的候选铃声
var DefaultRingtonePaths = []string{
	"/usr/share/sounds/freedesktop/stereo/phone-incoming-call.oga",
	"/usr/share/sounds/freedesktop/stereo/bell.oga",
	"/usr/share/sounds/alsa/Front_Center.wav",
}

// ResolveRingtone 把铃声引用解析为文件路径。
// 支持file://URI与普通路径；uri为空时返回searchPaths中第一个存在的文件。
func ResolveRingtone(uri string, searchPaths []string) (string, error) {
	if uri == "" {
		for _, p := range searchPaths {
			if isFile(p) {
				return p, nil
			}
		}
		return "", ErrRingtoneMissing
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURI, err)
	}

	var path string
	switch u.Scheme {
	case "":
		path = uri
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: remote host %q", ErrUnsupportedURI, u.Host)
		}
		path = u.Path
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURI, u.Scheme)
	}

	path, err = filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !isFile(path) {
		return "", fmt.Errorf("%w: %s", ErrRingtoneMissing, path)
	}
	return path, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
