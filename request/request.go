// Package request builds generateContent payloads for text and screenshot
// translation. Builders are pure: no I/O, no clock, no randomness.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/minios-linux/glossa/langmeta"
)

// MaxInputRunes caps text embedded in a text request.
const MaxInputRunes = 5000

// Kind distinguishes the two request shapes.
type Kind int

const (
	KindText Kind = iota
	KindVision
	KindProbe
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVision:
		return "vision"
	case KindProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// TextSystemPrompt is the fixed translator instruction for text requests.
const TextSystemPrompt = `You are a professional translator. Rules:
1. Maintain original formatting
2. No additional comments
3. Preserve proper nouns
4. Use natural grammar`

// VisionPromptTemplate is the two-phase screenshot instruction.
// {{targetLang}} is replaced with the target language name.
const VisionPromptTemplate = `You are given a screenshot. Work in two phases.

Phase 1: transcribe ALL visible text in the image exhaustively, in reading order,
including small print, buttons, labels and captions. Mark text you cannot read
as [unclear].

Phase 2: translate the complete transcription into {{targetLang}}.

Respond in exactly this format and nothing else:

TRANSCRIPTION:
<the transcribed text>

TRANSLATION:
<the translated text>`

// GenerationConfig is the subset of generation parameters this module sets.
type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
	TopP            float32 `json:"topP"`
}

// Payload is the generateContent request body.
type Payload struct {
	Contents          []*genai.Content       `json:"contents"`
	GenerationConfig  *GenerationConfig      `json:"generationConfig,omitempty"`
	SafetySettings    []*genai.SafetySetting `json:"safetySettings,omitempty"`
	SystemInstruction *genai.Content         `json:"systemInstruction,omitempty"`
}

// Request pairs a payload with the metadata the dispatcher needs.
type Request struct {
	Kind           Kind
	TargetLanguage string
	// Source is the sanitized text for text requests, empty otherwise.
	Source  string
	Payload *Payload
}

// Empty reports whether the request carries nothing to translate.
func (r *Request) Empty() bool {
	if r == nil || r.Payload == nil {
		return true
	}
	switch r.Kind {
	case KindText:
		return strings.TrimSpace(r.Source) == ""
	case KindVision:
		for _, c := range r.Payload.Contents {
			for _, p := range c.Parts {
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					return false
				}
			}
		}
		return true
	}
	return false
}

// Body encodes the payload as JSON.
func (r *Request) Body() ([]byte, error) {
	if r == nil || r.Payload == nil {
		return nil, fmt.Errorf("request has no payload")
	}
	return json.Marshal(r.Payload)
}

var hazardCategories = []genai.HarmCategory{
	genai.HarmCategoryHateSpeech,
	genai.HarmCategoryHarassment,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func safety(threshold genai.HarmBlockThreshold) []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(hazardCategories))
	for _, c := range hazardCategories {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: threshold})
	}
	return out
}

// Sanitize removes angle brackets and caps the text at MaxInputRunes.
func Sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, text)
	if runes := []rune(text); len(runes) > MaxInputRunes {
		text = string(runes[:MaxInputRunes])
	}
	return text
}

// BuildText builds a text translation request. Safety filters are disabled:
// a translator should not refuse the text it was handed.
func BuildText(text, targetLanguage string) *Request {
	clean := Sanitize(text)
	user := fmt.Sprintf("Translate to %s:\n%s", langmeta.PromptName(targetLanguage), clean)

	return &Request{
		Kind:           KindText,
		TargetLanguage: targetLanguage,
		Source:         clean,
		Payload: &Payload{
			Contents: []*genai.Content{
				{Role: "user", Parts: []*genai.Part{{Text: user}}},
			},
			GenerationConfig: &GenerationConfig{
				Temperature:     0.6,
				MaxOutputTokens: 2000,
				TopP:            0.9,
			},
			SafetySettings:    safety(genai.HarmBlockThresholdBlockNone),
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: TextSystemPrompt}}},
		},
	}
}

// BuildVision builds a screenshot transcription+translation request. Image
// content is untrusted, so the safety thresholds block medium and above.
// When mimeType is empty it is sniffed from the image bytes.
func BuildVision(image []byte, mimeType, targetLanguage string) *Request {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	prompt := strings.ReplaceAll(VisionPromptTemplate, "{{targetLang}}", langmeta.PromptName(targetLanguage))

	return &Request{
		Kind:           KindVision,
		TargetLanguage: targetLanguage,
		Payload: &Payload{
			Contents: []*genai.Content{
				{
					Role: "user",
					Parts: []*genai.Part{
						{Text: prompt},
						{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
					},
				},
			},
			GenerationConfig: &GenerationConfig{
				Temperature:     0.2,
				MaxOutputTokens: 4096,
				TopP:            0.9,
			},
			SafetySettings: safety(genai.HarmBlockThresholdBlockMediumAndAbove),
		},
	}
}

// BuildProbe builds the minimal request used to check that a key works.
func BuildProbe() *Request {
	return &Request{
		Kind: KindProbe,
		Payload: &Payload{
			Contents: []*genai.Content{
				{Role: "user", Parts: []*genai.Part{{Text: "Test message"}}},
			},
		},
	}
}
