// Package protocol defines the JSON wire messages exchanged with the
// bidirectional agent endpoint. Client frames are discriminated by their
// single top-level key (setup, realtimeInput, clientContent, toolResponse);
// server frames likewise (setupComplete, serverContent, toolCall,
// toolCallCancellation, goAway). DecodeServerMessage is the single inbound
// entry point.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PCM mime types carry the sample rate inline, per the live endpoint's
	// realtime-input convention.
	AudioInMIMEType  = "audio/pcm;rate=16000"
	AudioOutMIMEType = "audio/pcm;rate=24000"
	ImageMIMEType    = "image/jpeg"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Blob is base64-encoded binary data tagged with a mime type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

func NewBlob(mimeType string, raw []byte) Blob {
	return Blob{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(raw)}
}

// Decode returns the blob's raw bytes.
func (b Blob) Decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, badRequest("invalid base64 blob data", "data")
	}
	return raw, nil
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Tool enables either declared client functions or the endpoint's built-in
// search grounding.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *GoogleSearch         `json:"googleSearch,omitempty"`
}

type GoogleSearch struct{}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig  *VoiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Setup is the first client frame on a fresh connection.
type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
}

type ClientSetup struct {
	Setup Setup `json:"setup"`
}

type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// AudioFrame wraps one microphone frame as a realtime-input message.
func AudioFrame(pcm []byte) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{
		MediaChunks: []Blob{NewBlob(AudioInMIMEType, pcm)},
	}}
}

type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

type ClientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

// TextTurn wraps user text as a completed client-content turn.
func TextTurn(text string) ClientContentMessage {
	return ClientContentMessage{ClientContent: ClientContent{
		Turns:        []Content{{Role: "user", Parts: []Part{{Text: text}}}},
		TurnComplete: true,
	}}
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type ClientToolResponse struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

type SetupComplete struct{}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type GroundingWeb struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type GroundingChunk struct {
	Web *GroundingWeb `json:"web,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

type ServerContent struct {
	ModelTurn         *Content           `json:"modelTurn,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
	TurnComplete      bool               `json:"turnComplete,omitempty"`
	Interrupted       bool               `json:"interrupted,omitempty"`
}

// AudioData returns the decoded PCM payloads of the model turn's inline audio
// parts, in part order.
func (sc *ServerContent) AudioData() ([][]byte, error) {
	if sc == nil || sc.ModelTurn == nil {
		return nil, nil
	}
	var out [][]byte
	for i, part := range sc.ModelTurn.Parts {
		if part.InlineData == nil {
			continue
		}
		if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
			continue
		}
		raw, err := part.InlineData.Decode()
		if err != nil {
			return nil, badRequest("invalid audio part", fmt.Sprintf("modelTurn.parts[%d]", i))
		}
		out = append(out, raw)
	}
	return out, nil
}

// Citations flattens grounding metadata into (uri, title) pairs, skipping
// chunks without a web source.
func (sc *ServerContent) Citations() []GroundingWeb {
	if sc == nil || sc.GroundingMetadata == nil {
		return nil
	}
	var out []GroundingWeb
	for _, chunk := range sc.GroundingMetadata.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		if strings.TrimSpace(chunk.Web.URI) == "" {
			continue
		}
		out = append(out, *chunk.Web)
	}
	return out
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// DecodeServerMessage parses one inbound frame and returns the typed message:
// SetupComplete, *ServerContent, *ToolCall, *ToolCallCancellation, or *GoAway.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		SetupComplete        *SetupComplete        `json:"setupComplete"`
		ServerContent        *ServerContent        `json:"serverContent"`
		ToolCall             *ToolCall             `json:"toolCall"`
		ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation"`
		GoAway               *GoAway               `json:"goAway"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch {
	case envelope.SetupComplete != nil:
		return SetupComplete{}, nil
	case envelope.ServerContent != nil:
		return envelope.ServerContent, nil
	case envelope.ToolCall != nil:
		if len(envelope.ToolCall.FunctionCalls) == 0 {
			return nil, badRequest("toolCall.functionCalls is empty", "toolCall.functionCalls")
		}
		for i, call := range envelope.ToolCall.FunctionCalls {
			if strings.TrimSpace(call.ID) == "" {
				return nil, badRequest("function call id is required", fmt.Sprintf("toolCall.functionCalls[%d].id", i))
			}
			if strings.TrimSpace(call.Name) == "" {
				return nil, badRequest("function call name is required", fmt.Sprintf("toolCall.functionCalls[%d].name", i))
			}
		}
		return envelope.ToolCall, nil
	case envelope.ToolCallCancellation != nil:
		return envelope.ToolCallCancellation, nil
	case envelope.GoAway != nil:
		return envelope.GoAway, nil
	default:
		return nil, unsupported("unrecognized server frame", "")
	}
}
