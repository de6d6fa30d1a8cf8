// ABOUTME: Live voice engine message type definitions
// ABOUTME: Defines the JSON frames exchanged over the bidirectional session
package protocol

import "encoding/json"

// ClientMessage is any frame sent by the client. Exactly one field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

// Setup configures the session and must be the first client frame
type Setup struct {
	Model             string           `json:"model"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
}

// GenerationConfig selects the response modality and voice
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects a prebuilt voice
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps the prebuilt voice selection
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names a voice
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a list of parts, used for system instructions and model turns
type Content struct {
	Parts []Part `json:"parts"`
}

// Part is a text or inline media fragment
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 media tagged with its MIME type
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInput streams captured media to the engine
type RealtimeInput struct {
	MediaChunks []InlineData `json:"mediaChunks"`
}

// ServerMessage is any frame sent by the engine
type ServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *ServerContent   `json:"serverContent,omitempty"`
	Error         *ErrorPayload    `json:"error,omitempty"`
}

// ServerContent carries model output and turn signals
type ServerContent struct {
	ModelTurn    *Content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

// ErrorPayload describes an engine-side failure
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ModalityAudio requests spoken responses
const ModalityAudio = "AUDIO"

// SetupCompleteMessage returns the engine's setup acknowledgement
func SetupCompleteMessage() ServerMessage {
	empty := json.RawMessage("{}")
	return ServerMessage{SetupComplete: &empty}
}
