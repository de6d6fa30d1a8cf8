// ABOUTME: Audio decoder package for inbound wire chunks
// ABOUTME: Provides Decoder interface and the PCM implementation
// Package decode turns inbound audio chunks into playable frames.
//
// Chunks carry base64 16-bit signed little-endian PCM. Malformed chunks fail
// with ErrMalformedChunk so callers can drop just that chunk.
//
// Example:
//
//	frame, err := decode.PCM(chunk, audio.PlaybackRate, 1)
//	if errors.Is(err, decode.ErrMalformedChunk) {
//	    // drop and continue
//	}
package decode
