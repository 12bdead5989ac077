package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/minios-linux/glossa/keypool"
)

// generateContentResponse is the subset of the response this package reads.
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// candidateText returns candidates[0].content.parts[0].text.
func candidateText(body []byte) (string, error) {
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("response has no candidates")
	}
	c := resp.Candidates[0]
	if len(c.Content.Parts) == 0 || strings.TrimSpace(c.Content.Parts[0].Text) == "" {
		if c.FinishReason != "" {
			return "", fmt.Errorf("candidate has no text (finish reason %s)", c.FinishReason)
		}
		return "", fmt.Errorf("candidate has no text")
	}
	return c.Content.Parts[0].Text, nil
}

// upstreamMessage extracts the provider's error.message, falling back to
// the HTTP status text.
func upstreamMessage(status int, body []byte) string {
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil && resp.Error.Message != "" {
		return resp.Error.Message
	}
	return fmt.Sprintf("API returned status %d %s", status, http.StatusText(status))
}

// retryAfter reads the wait hint of a 429 response. The Retry-After header
// wins (delta seconds or HTTP date), then Google's RetryInfo detail in the
// body, then keypool.DefaultRetryAfter.
func retryAfter(header http.Header, body []byte, now time.Time) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
		}
	}

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		for _, detail := range errResp.Error.Details {
			if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
				// Durations look like "30s" or "45.123s".
				d := strings.TrimSuffix(detail.RetryDelay, "s")
				if secs, err := strconv.ParseFloat(d, 64); err == nil && secs > 0 {
					return time.Duration(secs * float64(time.Second))
				}
			}
		}
	}

	return keypool.DefaultRetryAfter
}

var (
	wrappingQuotes = regexp.MustCompile(`^["']|["']$`)
	echoPrefix     = regexp.MustCompile(`(?i)^Translate to.*?: `)
)

// CleanText strips wrapping quotes and a leaked "Translate to X: " echo.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	s = wrappingQuotes.ReplaceAllString(s, "")
	s = echoPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

var (
	translationBlock = regexp.MustCompile(`(?s)TRANSLATION:\s*(.*?)(?:\n[ \t]*\n|$)`)
	bracketArtifacts = regexp.MustCompile(`(?i)\[(?:unclear|illegible|unreadable|inaudible|blurry|cut off|\?+)\]`)
	leadingTag       = regexp.MustCompile(`(?m)^[ \t]*\[[^\]\n]{1,40}\][ \t]*`)
	repeatedSpaces   = regexp.MustCompile(`[ \t]{2,}`)
)

// ExtractVision pulls the translation out of a screenshot response.
//
// Fallback order:
//  1. the TRANSLATION: block, up to the first blank line
//  2. everything after TRANSCRIPTION:, minus any late TRANSLATION: marker
//  3. the raw text
//
// Bracketed artifacts such as [unclear] and leading bracketed tags are
// removed from whichever text was chosen.
func ExtractVision(raw string) string {
	text := raw
	if m := translationBlock.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		text = m[1]
	} else if idx := strings.Index(raw, "TRANSCRIPTION:"); idx >= 0 {
		text = raw[idx+len("TRANSCRIPTION:"):]
		text = strings.ReplaceAll(text, "TRANSLATION:", "")
	}

	text = bracketArtifacts.ReplaceAllString(text, "")
	text = leadingTag.ReplaceAllString(text, "")
	text = repeatedSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
