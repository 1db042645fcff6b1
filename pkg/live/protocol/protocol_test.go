package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeServerMessage_SetupComplete(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"setupComplete":{}}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if _, ok := msg.(SetupComplete); !ok {
		t.Fatalf("decoded type = %T, want SetupComplete", msg)
	}
}

func TestDecodeServerMessage_AudioContent(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{
		"serverContent":{
			"modelTurn":{"parts":[
				{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}},
				{"text":"aside"}
			]}
		}
	}`)

	msg, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	sc, ok := msg.(*ServerContent)
	if !ok {
		t.Fatalf("decoded type = %T, want *ServerContent", msg)
	}
	chunks, err := sc.AudioData()
	if err != nil {
		t.Fatalf("AudioData() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("audio chunks = %d, want 1", len(chunks))
	}
	if string(chunks[0]) != string(pcm) {
		t.Fatalf("audio payload = %v, want %v", chunks[0], pcm)
	}
}

func TestDecodeServerMessage_ToolCall(t *testing.T) {
	raw := []byte(`{
		"toolCall":{"functionCalls":[
			{"id":"call-1","name":"marketData","args":{"crop":"wheat"}},
			{"id":"call-2","name":"requestImage"}
		]}
	}`)

	msg, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	tc, ok := msg.(*ToolCall)
	if !ok {
		t.Fatalf("decoded type = %T, want *ToolCall", msg)
	}
	if len(tc.FunctionCalls) != 2 {
		t.Fatalf("function calls = %d, want 2", len(tc.FunctionCalls))
	}
	if tc.FunctionCalls[0].Name != "marketData" || tc.FunctionCalls[0].ID != "call-1" {
		t.Fatalf("first call = %+v", tc.FunctionCalls[0])
	}
	if got := tc.FunctionCalls[0].Args["crop"]; got != "wheat" {
		t.Fatalf("args.crop = %v", got)
	}
}

func TestDecodeServerMessage_ToolCallMissingID(t *testing.T) {
	raw := []byte(`{"toolCall":{"functionCalls":[{"name":"marketData"}]}}`)
	_, err := DecodeServerMessage(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" {
		t.Fatalf("code=%q", decErr.Code)
	}
	if !strings.Contains(decErr.Param, "functionCalls[0]") {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestDecodeServerMessage_UnrecognizedFrame(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"somethingElse":{}}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestDecodeServerMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"serverContent":`))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestServerContent_Citations(t *testing.T) {
	sc := &ServerContent{GroundingMetadata: &GroundingMetadata{
		GroundingChunks: []GroundingChunk{
			{Web: &GroundingWeb{URI: "https://example.com/prices", Title: "Prices"}},
			{Web: nil},
			{Web: &GroundingWeb{URI: "  "}},
		},
	}}

	got := sc.Citations()
	if len(got) != 1 {
		t.Fatalf("citations = %d, want 1", len(got))
	}
	if got[0].Title != "Prices" {
		t.Fatalf("title=%q", got[0].Title)
	}
}

func TestAudioFrame_RoundTrip(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30}
	frame := AudioFrame(pcm)

	blob, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ClientRealtimeInput
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("media chunks = %d, want 1", len(decoded.RealtimeInput.MediaChunks))
	}
	chunk := decoded.RealtimeInput.MediaChunks[0]
	if chunk.MIMEType != AudioInMIMEType {
		t.Fatalf("mime=%q", chunk.MIMEType)
	}
	raw, err := chunk.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw) != string(pcm) {
		t.Fatalf("payload = %v, want %v", raw, pcm)
	}
}

func TestTextTurn(t *testing.T) {
	msg := TextTurn("prior context")
	if !msg.ClientContent.TurnComplete {
		t.Fatal("turnComplete should be set")
	}
	if len(msg.ClientContent.Turns) != 1 || msg.ClientContent.Turns[0].Role != "user" {
		t.Fatalf("turns = %+v", msg.ClientContent.Turns)
	}
	if msg.ClientContent.Turns[0].Parts[0].Text != "prior context" {
		t.Fatalf("text=%q", msg.ClientContent.Turns[0].Parts[0].Text)
	}
}
