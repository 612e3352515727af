package download

import "errors"

var (
	// ErrDownloadTimeout indicates the wall-clock limit was exceeded and the
	// child process was killed
	ErrDownloadTimeout = errors.New("download_timeout")

	// ErrToolFailed indicates the tool exited nonzero
	ErrToolFailed = errors.New("tool_execution_failed")

	// ErrOutputNotFound indicates a clean exit but no file could be located
	ErrOutputNotFound = errors.New("output_not_found")
)
