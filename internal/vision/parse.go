package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"evidence-rag/internal/models"
)

// ErrorKind says which step of evidence location failed.
type ErrorKind int

const (
	KindInvalidSource ErrorKind = iota
	KindRender
	KindModel
	KindEmptyOutput
	KindNoJSON
	KindParse
	KindMissingKeys
	KindOffPage
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidSource:
		return "invalid source"
	case KindRender:
		return "render failed"
	case KindModel:
		return "model call failed"
	case KindEmptyOutput:
		return "empty model output"
	case KindNoJSON:
		return "no JSON object in model output"
	case KindParse:
		return "invalid JSON"
	case KindMissingKeys:
		return "missing required keys"
	case KindOffPage:
		return "box outside the page"
	default:
		return "unknown"
	}
}

// LocatorError is a per-candidate failure to obtain a bounding box.
type LocatorError struct {
	Kind    ErrorKind
	Missing []string
	Err     error
}

func (e *LocatorError) Error() string {
	msg := "failed to generate evidence: " + e.Kind.String()
	if len(e.Missing) > 0 {
		msg += " " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LocatorError) Unwrap() error { return e.Err }

// IsKind reports whether err is a LocatorError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var lerr *LocatorError
	return errors.As(err, &lerr) && lerr.Kind == k
}

var requiredKeys = []string{"x0", "y0", "x1", "y1", "confidence"}

// ParseBox pulls the first brace-balanced JSON object out of a model reply
// and reads the five box fields from it. Corners are ordered and confidence
// is clamped to [0,1]. Either a complete box or an error is returned.
func ParseBox(reply string) (models.Box, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return models.Box{}, &LocatorError{Kind: KindEmptyOutput}
	}

	span, ok := FirstJSONObject(reply)
	if !ok {
		return models.Box{}, &LocatorError{Kind: KindNoJSON}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return models.Box{}, &LocatorError{Kind: KindParse, Err: err}
	}

	var missing []string
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return models.Box{}, &LocatorError{Kind: KindMissingKeys, Missing: missing}
	}

	values := make(map[string]float64, len(requiredKeys))
	for _, k := range requiredKeys {
		var v float64
		if err := json.Unmarshal(fields[k], &v); err != nil {
			return models.Box{}, &LocatorError{Kind: KindParse, Err: fmt.Errorf("field %s: %w", k, err)}
		}
		values[k] = v
	}

	box := models.Box{
		X0:         math.Min(values["x0"], values["x1"]),
		Y0:         math.Min(values["y0"], values["y1"]),
		X1:         math.Max(values["x0"], values["x1"]),
		Y1:         math.Max(values["y0"], values["y1"]),
		Confidence: math.Max(0, math.Min(1, values["confidence"])),
	}
	return box, nil
}

// FirstJSONObject returns the first balanced {...} span, ignoring braces
// inside JSON strings.
func FirstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
