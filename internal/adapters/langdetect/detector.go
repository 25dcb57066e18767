// Package langdetect wraps whatlanggo behind domain.LanguageDetector.
package langdetect

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

const minLength = 5

type Detector struct{}

func New() Detector { return Detector{} }

// Detect returns the ISO 639-1 code of text. Short text, or text
// whatlanggo cannot place in any language, is reported as undetected.
func (Detector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minLength {
		return "", false
	}
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return code, true
}
