package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied 用户拒绝或系统禁止访问麦克风。
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrNoInputDevice 没有可用的音频输入设备。
	ErrNoInputDevice = errors.New("no audio input device")
	// ErrAlreadyRecording 录音进行中时再次调用 Start。
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// PermissionError reports that the microphone could not be acquired.
// No session is started when Start returns it.
type PermissionError struct {
	Reason string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return "microphone unavailable: " + e.Reason
	}
	return fmt.Sprintf("microphone unavailable: %s: %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// IsPermissionError reports whether err is, or wraps, a *PermissionError.
func IsPermissionError(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}
