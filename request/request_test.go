package request

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"google.golang.org/genai"
)

func TestSanitize(t *testing.T) {
	if got := Sanitize("<b>Bonjour</b> > <i>"); got != "bBonjour/b  i" {
		t.Fatalf("Sanitize() = %q", got)
	}

	long := strings.Repeat("é", MaxInputRunes+10)
	got := Sanitize(long)
	if n := utf8.RuneCountInString(got); n != MaxInputRunes {
		t.Fatalf("Sanitize() kept %d runes, want %d", n, MaxInputRunes)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("Sanitize() produced invalid UTF-8")
	}
}

func TestBuildText(t *testing.T) {
	req := BuildText("<p>Bonjour</p>", "en")

	if req.Kind != KindText || req.TargetLanguage != "en" {
		t.Fatalf("unexpected request metadata: %+v", req)
	}
	if req.Source != "pBonjour/p" {
		t.Fatalf("Source = %q", req.Source)
	}

	p := req.Payload
	if got := p.Contents[0].Parts[0].Text; got != "Translate to English:\npBonjour/p" {
		t.Fatalf("user text = %q", got)
	}
	if p.GenerationConfig.Temperature != 0.6 || p.GenerationConfig.MaxOutputTokens != 2000 || p.GenerationConfig.TopP != 0.9 {
		t.Fatalf("generation config = %+v", p.GenerationConfig)
	}
	if len(p.SafetySettings) != 4 {
		t.Fatalf("got %d safety settings, want 4", len(p.SafetySettings))
	}
	for _, s := range p.SafetySettings {
		if s.Threshold != genai.HarmBlockThresholdBlockNone {
			t.Fatalf("text safety threshold = %q, want BLOCK_NONE", s.Threshold)
		}
	}
	if p.SystemInstruction == nil || !strings.Contains(p.SystemInstruction.Parts[0].Text, "Preserve proper nouns") {
		t.Fatalf("system instruction missing translator rules")
	}
}

func TestBuildVision(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	req := BuildVision(png, "", "vi")

	if req.Kind != KindVision {
		t.Fatalf("Kind = %v, want vision", req.Kind)
	}
	p := req.Payload
	if p.GenerationConfig.Temperature != 0.2 {
		t.Fatalf("vision temperature = %v, want 0.2", p.GenerationConfig.Temperature)
	}
	if p.GenerationConfig.MaxOutputTokens <= 2000 {
		t.Fatalf("vision output budget %d should exceed the text budget", p.GenerationConfig.MaxOutputTokens)
	}
	for _, s := range p.SafetySettings {
		if s.Threshold != genai.HarmBlockThresholdBlockMediumAndAbove {
			t.Fatalf("vision safety threshold = %q", s.Threshold)
		}
	}

	parts := p.Contents[0].Parts
	if !strings.Contains(parts[0].Text, "into Vietnamese") || !strings.Contains(parts[0].Text, "TRANSCRIPTION:") {
		t.Fatalf("vision prompt = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
		t.Fatalf("inline data = %+v, want sniffed image/png", parts[1].InlineData)
	}
}

func TestEmpty(t *testing.T) {
	if !BuildText("   \n", "en").Empty() {
		t.Fatalf("blank text request should be empty")
	}
	if BuildText("hi", "en").Empty() {
		t.Fatalf("non-blank text request should not be empty")
	}
	if !BuildVision(nil, "image/png", "en").Empty() {
		t.Fatalf("vision request without bytes should be empty")
	}
	if BuildProbe().Empty() {
		t.Fatalf("probe should never be empty")
	}
	var nilReq *Request
	if !nilReq.Empty() {
		t.Fatalf("nil request should be empty")
	}
}

func TestBodyWireShape(t *testing.T) {
	body, err := BuildText("Bonjour", "en").Body()
	if err != nil {
		t.Fatalf("Body() error: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	for _, key := range []string{"contents", "generationConfig", "safetySettings", "systemInstruction"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("body missing %q: %s", key, body)
		}
	}
	if !strings.Contains(string(body), `"HARM_CATEGORY_DANGEROUS_CONTENT"`) {
		t.Fatalf("body missing hazard category: %s", body)
	}
	if !strings.Contains(string(body), `"maxOutputTokens":2000`) {
		t.Fatalf("body missing output budget: %s", body)
	}
}
