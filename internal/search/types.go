// Package search ranks indexed images against a text query by blending dense
// CLIP similarity with lexical relevance over recognised text.
package search

// Mode selects the scoring signal.
type Mode string

const (
	ModeClip   Mode = "clip"
	ModeOCR    Mode = "ocr"
	ModeHybrid Mode = "hybrid"
)

// ParseMode validates s. The empty string selects ModeHybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeClip, ModeOCR, ModeHybrid:
		return Mode(s), nil
	}
	return "", ErrInvalidMode
}

// Request is one search call. All fields are required; callers apply defaults.
type Request struct {
	Query     string
	K         int
	Mode      Mode
	OCRWeight float64
}

// Result represents one matched image.
type Result struct {
	Path           string   `json:"path"`
	Score          float64  `json:"score"`
	Clip           float64  `json:"clip"`
	Lexical        float64  `json:"lexical"`
	Blended        float64  `json:"blended"`
	MatchedTokens  []string `json:"matched_tokens"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	DuplicateGroup string   `json:"duplicate_group,omitempty"`
}
