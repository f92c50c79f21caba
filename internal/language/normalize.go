package language

import "strings"

// nativeNames covers how the source catalogues spell their own languages.
var nativeNames = map[string]string{
	"português":  "pt",
	"portugues":  "pt",
	"español":    "es",
	"espanol":    "es",
	"castellano": "es",
	"castilian":  "es",
	"latina":     "la",
	"latine":     "la",
	"latinum":    "la",
	"italiano":   "it",
	"toscano":    "it",
	"français":   "fr",
	"francais":   "fr",
	"deutsch":    "de",
	"nederlands": "nl",
}

// NormalizeCode maps a declared document language to an ISO 639-1 code. It
// accepts tags ("pt-BR", "por"), English names ("Portuguese") and native
// names ("português"). Unrecognized values yield "".
func NormalizeCode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "_", "-")
	if primary, _, found := strings.Cut(value, "-"); found {
		value = strings.TrimSpace(primary)
	}
	if value == "" {
		return ""
	}

	if code, ok := nativeNames[value]; ok {
		return code
	}
	for _, lang := range corpusLanguages {
		iso1 := strings.ToLower(lang.IsoCode639_1().String())
		switch value {
		case iso1, strings.ToLower(lang.IsoCode639_3().String()), strings.ToLower(lang.String()):
			return iso1
		}
	}

	// Other two-letter tags are kept even when the detector does not know them.
	if len(value) == 2 && isASCIILower(value) {
		return value
	}
	return ""
}

func isASCIILower(value string) bool {
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
