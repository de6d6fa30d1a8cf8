// ABOUTME: Audio encoder package for encoding frames to wire chunks
// ABOUTME: Provides Encoder interface and the PCM implementation
// Package encode turns audio frames into transmissible chunks.
//
// The wire format is base64 of interleaved 16-bit signed little-endian PCM,
// tagged with a MIME type carrying the sample rate.
//
// Example:
//
//	chunk := encode.PCM(audio.Mono(samples, audio.CaptureRate))
//	// chunk.MIMEType == "audio/pcm;rate=16000"
package encode
