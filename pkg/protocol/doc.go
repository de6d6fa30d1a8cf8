// ABOUTME: Live voice engine wire protocol package
// ABOUTME: Defines protocol messages and the WebSocket session client
// Package protocol implements the client side of a bidirectional live voice
// session.
//
// Frames are JSON. The client sends a setup frame, waits for setupComplete,
// then streams base64 PCM audio as realtimeInput media chunks. The engine
// replies with serverContent frames carrying audio parts and turn signals,
// which the client flattens into an ordered Event stream.
//
// Example:
//
//	client, err := protocol.Dial(ctx, protocol.Config{URL: "wss://engine/live", Model: "m"}, key)
//	err = client.SendAudio(chunk)
//	for ev := range client.Events() { ... }
package protocol
