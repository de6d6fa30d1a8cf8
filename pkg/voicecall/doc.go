// ABOUTME: Realtime duplex voice call package
// ABOUTME: Capture pipeline, playback scheduler and session controller
// Package voicecall runs a realtime voice conversation with a remote engine.
//
// A Controller owns the call state machine and the transport session. It
// starts a CapturePipeline that streams microphone frames while the talk gate
// is open, and feeds inbound audio to a Scheduler that plays it back to back
// with no gaps and cancels it on barge-in.
//
// Every state change happens on the controller's single dispatcher goroutine,
// so the UI methods only post work and never block.
//
// Example:
//
//	ctrl := voicecall.NewController(voicecall.Config{
//		Dialer:  dialer,
//		Capture: capture.NewMalgo(logger),
//		Output:  output.NewOto(logger),
//	})
//	go ctrl.Run(ctx)
//	ctrl.StartCall(os.Getenv("GEMINI_API_KEY"))
//	ctrl.PressTalk()
package voicecall
