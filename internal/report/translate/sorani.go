package translate

import "strings"

// Kurdish target handling. Providers are asked for Sorani ("ckb") directly,
// but several of them still hand back Kurmanji in Latin script. The final
// script-correction pass transliterates any remaining Latin characters to
// Arabic script so rendered reports come out in Sorani. It is deterministic
// and purely local.

const soraniTarget = "ckb"

var kurdishLangs = map[string]bool{"ku": true, "ckb": true}

var rtlLangs = map[string]bool{"ar": true, "ku": true, "ckb": true}

// Latin-to-Sorani letter map, best effort. Unmapped runes pass through.
var kuLatinMap = map[rune]string{
	'a': "ا", 'b': "ب", 'c': "ج", 'ç': "چ",
	'd': "د", 'e': "ە", 'ê': "ێ", 'f': "ف",
	'g': "گ", 'h': "ھ", 'i': "ی", 'î': "ی",
	'j': "ژ", 'k': "ک", 'l': "ل", 'm': "م",
	'n': "ن", 'o': "ۆ", 'p': "پ", 'q': "ق",
	'r': "ر", 's': "س", 'ş': "ش", 't': "ت",
	'u': "و", 'û': "وو", 'v': "ڤ", 'w': "و",
	'x': "خ", 'y': "ی", 'z': "ز",
	'â': "ا", 'ô': "ۆ",
}

// ensureSorani transliterates Latin characters to Sorani Arabic script.
// Never fails; non-Latin runes (digits, punctuation, Arabic script already in
// place) pass through unchanged.
func ensureSorani(text string) string {
	if text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		lower := r
		if r >= 'A' && r <= 'Z' {
			lower = r + ('a' - 'A')
		}
		if mapped, ok := kuLatinMap[lower]; ok {
			b.WriteString(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ensureSoraniBatch(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = ensureSorani(t)
	}
	return out
}

// normalizeTarget maps user-facing language codes to provider codes. Kurdish
// variants all route to Sorani.
func normalizeTarget(target string) string {
	t := strings.ToLower(target)
	if t == "" {
		return "ar"
	}
	if kurdishLangs[t] {
		return soraniTarget
	}
	return t
}

// isKurdish reports whether the requested language needs the Sorani
// script-correction pass.
func isKurdish(target string) bool {
	return kurdishLangs[strings.ToLower(target)]
}

// isRTL reports whether rendered output should be right-to-left.
func isRTL(target string) bool {
	return rtlLangs[strings.ToLower(target)]
}
