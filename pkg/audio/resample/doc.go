// ABOUTME: Audio resampling package
// ABOUTME: Provides a streaming linear resampler for planar float audio
// Package resample converts planar float32 audio between sample rates.
//
// The resampler is stateful: feed consecutive blocks of one stream through the
// same Resampler so interpolation stays continuous across block boundaries.
//
// Example:
//
//	r := resample.New(48000, 16000, 1)
//	out := r.Resample([][]float32{block})
package resample
