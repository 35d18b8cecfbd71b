package providers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/routecc/rcc/core"
)

// Token-limit extraction bounds. Values outside this range are treated as
// parser noise and discarded (prefer "unknown" over "wrong").
const (
	MinPlausibleTokenLimit = 1000
	MaxPlausibleTokenLimit = 2000000
)

// tokenLimitPatterns is the versioned table of upstream error phrasings
// that reveal a model's real context window. Error-message parsing is a
// contract with upstream providers and inherently fragile; keep additions
// conservative and anchored on the token count.
var tokenLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)maximum context length (?:of|is)\s*(\d+)\s*tokens`),
	regexp.MustCompile(`(?i)token\w*\s+.{0,40}?limit\w*\s+.{0,20}?(\d{4,})`),
	regexp.MustCompile(`(?i)(\d{4,})\s*tokens?\s*(?:limit|maximum)`),
}

// rateLimitPhrases are body fragments that mark a 200/4xx body as a rate
// limit even when the status code does not say 429
var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
}

// openAIErrorBody is the OpenAI-style error envelope
type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// iflowErrorBody is the flat error shape used by the iFlow family
type iflowErrorBody struct {
	Message   string `json:"message"`
	ErrorCode int    `json:"error_code"`
}

// iflowHostPattern identifies the provider family that uses the flat
// {"message", "error_code"} error shape
var iflowHostPattern = regexp.MustCompile(`(?i)(^|\.)iflow\.`)

// IsIFlowHost reports whether a host belongs to the iFlow provider family
func IsIFlowHost(host string) bool {
	return iflowHostPattern.MatchString(host)
}

// ErrorMessage extracts the human-readable error message from an upstream
// error body. For iFlow-family hosts the flat "message" field is consulted
// first, falling back to the OpenAI-style error.message, so no provider is
// silently misclassified.
func ErrorMessage(body []byte, host string) string {
	if IsIFlowHost(host) {
		var flat iflowErrorBody
		if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
			return flat.Message
		}
	}
	var envelope openAIErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}

// ExtractTokenLimit scans an error message for a context-window size.
// Returns 0 when no plausible limit is found.
func ExtractTokenLimit(message string) int {
	for _, pattern := range tokenLimitPatterns {
		m := pattern.FindStringSubmatch(message)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n >= MinPlausibleTokenLimit && n <= MaxPlausibleTokenLimit {
			return n
		}
	}
	return 0
}

// Classify maps an upstream HTTP status and body to the categorical outcome
// the scheduler acts on. The returned int carries the extracted token limit
// for token_limit_exceeded outcomes, zero otherwise.
func Classify(statusCode int, body []byte, host string) (core.Classification, int) {
	switch {
	case statusCode == http.StatusOK:
		return core.ClassSuccess, 0

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.ClassAuthFailure, 0

	case statusCode == http.StatusTooManyRequests:
		return core.ClassRateLimited, 0

	case statusCode == http.StatusBadRequest:
		message := ErrorMessage(body, host)
		if n := ExtractTokenLimit(message); n > 0 {
			return core.ClassTokenLimit, n
		}
		lower := strings.ToLower(message)
		for _, phrase := range rateLimitPhrases {
			if strings.Contains(lower, phrase) {
				return core.ClassRateLimited, 0
			}
		}
		return core.ClassBadRequest, 0

	case statusCode >= 500:
		return core.ClassServerError, 0

	default:
		lower := strings.ToLower(string(body))
		for _, phrase := range rateLimitPhrases {
			if strings.Contains(lower, phrase) {
				return core.ClassRateLimited, 0
			}
		}
		return core.ClassBadRequest, 0
	}
}
