package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExecutableNotFound is returned when the requested binary is not on PATH.
	ErrExecutableNotFound = errors.New("executable not found")

	// ErrDeviceUnavailable is returned when a capture process dies during start-up
	// because its audio device is missing or held by another application.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrProcessExists is returned when a live process is already tracked under the same key.
	ErrProcessExists = errors.New("process already running")
)

type LaunchKind string

const (
	KindNotFound   LaunchKind = "not_found"
	KindDeviceBusy LaunchKind = "device_busy"
	KindFailed     LaunchKind = "failed"
)

// LaunchError describes a process that could not be started or died during start-up.
type LaunchError struct {
	Kind    LaunchKind
	Command string
	Stderr  string
	Err     error
}

func (e *LaunchError) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("launch %s (%s)", e.Command, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *LaunchError) Unwrap() []error {
	if e == nil {
		return nil
	}

	var errs []error
	switch e.Kind {
	case KindNotFound:
		errs = append(errs, ErrExecutableNotFound)
	case KindDeviceBusy:
		errs = append(errs, ErrDeviceUnavailable)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// deviceErrorPatterns are lower-cased fragments that ffmpeg and friends print
// when the capture device cannot be opened.
var deviceErrorPatterns = []string{
	"device or resource busy",
	"resource busy",
	"no such device",
	"could not open",
	"cannot open audio device",
	"could not find audio",
	"audio device not found",
	"input/output error",
	"device in use",
	"already in use",
	"connection refused",
	"permission denied",
}

func classifyStartupFailure(stderr string) LaunchKind {
	lower := strings.ToLower(stderr)
	for _, pattern := range deviceErrorPatterns {
		if strings.Contains(lower, pattern) {
			return KindDeviceBusy
		}
	}
	return KindFailed
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
