package moderation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iamwavecut/antispambot/internal/errors"
)

// ExtractJSONObject returns the first balanced {...} span in s. Braces inside
// JSON strings are ignored. Models tend to wrap the object in prose or code
// fences, and sometimes stop mid-object.
func ExtractJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := balancedEnd(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
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
				return i, true
			}
		}
	}
	return 0, false
}

type rawClassification struct {
	Result     json.RawMessage `json:"result"`
	SpamChance json.RawMessage `json:"spamChance"`
	SpamReason json.RawMessage `json:"spamReason"`
	MockText   json.RawMessage `json:"mockText"`
}

// ParseClassification extracts and strictly validates the model answer.
// result must be 0 or 1 and spamChance an integer within [0,100]; anything
// else is ErrMalformedClassification.
func ParseClassification(text string) (*Classification, error) {
	object, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no json object in answer", errors.ErrMalformedClassification)
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrMalformedClassification, err)
	}

	result, ok := intValue(raw.Result, true)
	if !ok || (result != 0 && result != 1) {
		return nil, fmt.Errorf("%w: result %s", errors.ErrMalformedClassification, orMissing(raw.Result))
	}
	chance, ok := intValue(raw.SpamChance, false)
	if !ok || chance < 0 || chance > 100 {
		return nil, fmt.Errorf("%w: spamChance %s", errors.ErrMalformedClassification, orMissing(raw.SpamChance))
	}

	return &Classification{
		IsSpam:     result == 1,
		SpamChance: chance,
		Reason:     textValue(raw.SpamReason),
		Commentary: textValue(raw.MockText),
	}, nil
}

// intValue accepts integral numbers and numeric strings, and booleans when
// allowBool is set.
func intValue(raw json.RawMessage, allowBool bool) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch v := v.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		return n, err == nil
	case bool:
		if !allowBool {
			return 0, false
		}
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func orMissing(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "missing"
	}
	return string(raw)
}
