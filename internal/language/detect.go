package language

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const (
	minLetters    = 6
	maxSampleSize = 2000
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// corpusLanguages are the languages the source texts are written in.
var corpusLanguages = []lingua.Language{
	lingua.Dutch,
	lingua.English,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Latin,
	lingua.Portuguese,
	lingua.Spanish,
}

// DetectISO6391 returns the ISO 639-1 code of the text or "" when the text
// is too short to decide.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// DocumentLanguage prefers the declared tag and falls back to detecting the
// language of the given text samples, typically the mention contexts.
func DocumentLanguage(declared string, samples []string) string {
	if code := NormalizeCode(declared); code != "" {
		return code
	}

	var b strings.Builder
	for _, sample := range samples {
		if b.Len() >= maxSampleSize {
			break
		}
		sample = strings.TrimSpace(sample)
		if sample == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sample)
	}
	return DetectISO6391(b.String())
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(corpusLanguages...).
			Build()
	})
	return detector
}
