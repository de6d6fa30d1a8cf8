// ABOUTME: Call error taxonomy
// ABOUTME: Sentinel errors and their stable user-facing status strings
package voicecall

import (
	"errors"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/voicecall-go/pkg/audio/decode"
)

var (
	// ErrCredentialMissing means StartCall was given no credential
	ErrCredentialMissing = errors.New("credential missing")

	// ErrConnect means the transport session could not be opened
	ErrConnect = errors.New("connection failed")

	// ErrTransport means the engine reported an error or the connection broke
	ErrTransport = errors.New("voice engine error")

	// ErrTransportClosed means the engine ended the session
	ErrTransportClosed = errors.New("call closed by voice engine")

	// Device failures, shared with the capture package
	ErrPermissionDenied  = capture.ErrPermissionDenied
	ErrDeviceUnavailable = capture.ErrDeviceUnavailable

	// ErrMalformedChunk is recovered locally; the chunk is dropped
	ErrMalformedChunk = decode.ErrMalformedChunk
)

var statusErrors = []error{
	ErrCredentialMissing,
	ErrPermissionDenied,
	ErrDeviceUnavailable,
	ErrConnect,
	ErrMalformedChunk,
	ErrTransport,
	ErrTransportClosed,
}

// StatusText maps err to a stable description for display
func StatusText(err error) string {
	if err == nil {
		return ""
	}
	for _, target := range statusErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "unexpected error"
}
