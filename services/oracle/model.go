package oracle

import (
	"errors"
	"fmt"

	"ecorewards-engine/services/category"
)

// ErrOracleFailure wraps every transport, timeout and parse failure. Callers
// treat it as "no usable score".
var ErrOracleFailure = errors.New("oracle failure")

// Failure kinds, used as the metric result label.
const (
	KindTimeout   = "timeout"
	KindTransport = "transport"
	KindHTTP      = "http_error"
	KindEmpty     = "empty"
	KindParse     = "parse_error"
	KindPrompt    = "prompt_error"
)

// Failure describes why an oracle call produced no usable score.
type Failure struct {
	Kind   string
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrOracleFailure, f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error {
	return ErrOracleFailure
}

func fail(kind, format string, args ...any) error {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

const maxLabels = 10

var supportedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"image/heic":      true,
	"image/heif":      true,
	"video/mp4":       true,
	"video/quicktime": true,
	"video/webm":      true,
	"video/mpeg":      true,
	"video/3gpp":      true,
}

func IsSupportedMimeType(mime string) bool {
	return supportedMimeTypes[mime]
}

type Request struct {
	Media       []byte
	MimeType    string
	Category    category.Category
	Subcategory string
	Note        string
}

type Analysis struct {
	Score         int      `json:"score"`
	Labels        []string `json:"labels"`
	CategoryMatch bool     `json:"category_match"`
	Feedback      string   `json:"feedback"`
	// Raw is the model text as received, kept for diagnostics.
	Raw string `json:"-"`
}

// generateContent wire types.
type (
	inlineData struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}

	part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inline_data,omitempty"`
	}

	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	generationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	}

	generateRequest struct {
		Contents         []content        `json:"contents"`
		GenerationConfig generationConfig `json:"generationConfig"`
	}

	candidate struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	}

	generateResponse struct {
		Candidates []candidate `json:"candidates"`
	}
)
