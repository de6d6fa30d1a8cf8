// ABOUTME: Microphone capture package
// ABOUTME: Provides the capture Device interface and a malgo backend
// Package capture provides microphone input devices.
//
// A Device delivers interleaved float32 blocks of a fixed frame count from the
// moment Open succeeds until Close. Permission and availability failures are
// reported as ErrPermissionDenied and ErrDeviceUnavailable.
//
// Example:
//
//	dev := capture.NewMalgo(logger)
//	err := dev.Open(capture.Config{SampleRate: 16000, Channels: 1, BlockSize: 4096}, onBlock)
//	defer dev.Close()
package capture
