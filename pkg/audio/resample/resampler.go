// ABOUTME: Streaming linear resampler for converting audio sample rates
// ABOUTME: Carries one sample of history per channel so block boundaries stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	tail       []float32 // last input sample per channel, nil before the first block
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// InputRate returns the source sample rate
func (r *Resampler) InputRate() int {
	return r.inputRate
}

// OutputRate returns the target sample rate
func (r *Resampler) OutputRate() int {
	return r.outputRate
}

// Resample converts one block of planar input to the output rate.
// Each call continues from where the previous block ended.
func (r *Resampler) Resample(input [][]float32) [][]float32 {
	if r.channels == 0 || len(input) != r.channels || len(input[0]) == 0 {
		return make([][]float32, r.channels)
	}

	if r.inputRate == r.outputRate {
		out := make([][]float32, r.channels)
		for ch := range input {
			out[ch] = append([]float32(nil), input[ch]...)
		}
		return out
	}

	// Prepend the previous block's last sample so interpolation spans the boundary
	offset := 0
	if r.tail != nil {
		offset = 1
	}
	inputFrames := len(input[0]) + offset
	sample := func(ch, idx int) float32 {
		if idx < offset {
			return r.tail[ch]
		}
		return input[ch][idx-offset]
	}

	out := make([][]float32, r.channels)
	for ch := range out {
		out[ch] = make([]float32, 0, r.OutputFramesNeeded(len(input[0]))+1)
	}

	pos := r.position
	for pos < float64(inputFrames-1) {
		idx := int(pos)
		frac := float32(pos - float64(idx))
		for ch := 0; ch < r.channels; ch++ {
			s1 := sample(ch, idx)
			s2 := sample(ch, idx+1)
			out[ch] = append(out[ch], s1*(1-frac)+s2*frac)
		}
		pos += r.ratio
	}

	// Rebase the read position onto the sample we keep as history
	r.position = pos - float64(inputFrames-1)
	if r.tail == nil {
		r.tail = make([]float32, r.channels)
	}
	for ch := range input {
		r.tail[ch] = input[ch][len(input[ch])-1]
	}

	return out
}

// Reset drops the carried history
func (r *Resampler) Reset() {
	r.position = 0
	r.tail = nil
}

// OutputFramesNeeded estimates how many output frames an input block produces
func (r *Resampler) OutputFramesNeeded(inputFrames int) int {
	return int(float64(inputFrames) / r.ratio)
}

// InputFramesNeeded estimates how many input frames are needed to produce output frames
func (r *Resampler) InputFramesNeeded(outputFrames int) int {
	return int(float64(outputFrames) * r.ratio)
}
