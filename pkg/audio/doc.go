// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Frame, Chunk types and sample conversion functions
// Package audio provides the audio types shared by the capture and playback paths.
//
// This package defines core types used throughout voicecall:
//   - Frame: planar float32 samples at a fixed sample rate
//   - Chunk: the wire form of a frame (base64 16-bit PCM plus a MIME tag)
//
// It also provides utilities for converting between sample formats:
//   - float32 ↔ int16 conversions
//   - frame count ↔ duration conversions
//   - downmixing interleaved audio to mono
//
// Example:
//
//	frame := audio.Mono(samples, audio.CaptureRate)
//	fmt.Println(frame.Duration(), audio.MIMEType(frame.SampleRate))
package audio
