// ABOUTME: Audio output package for scheduled playback
// ABOUTME: Provides the clocked Device interface, the Timeline mixer and oto/malgo backends
// Package output provides playback devices with a sample-accurate clock.
//
// Every backend renders a Timeline: voices are scheduled at an exact device
// time, gain changes apply from a device time onward, and the device clock is
// the amount of audio rendered so far.
//
// Example:
//
//	out := output.NewOto(logger)
//	err := out.Open(24000, 1)
//	voice, err := out.Schedule(frame, out.CurrentTime(), func() { log.Print("done") })
package output
