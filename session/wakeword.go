package session

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// MinWakeSamples минимальное число сэмплов 16kHz окна, которое имеет смысл распознавать
const MinWakeSamples = 1000

// WakeWordDetector ищет слово активации в распознанном тексте.
// Сначала точное вхождение подстроки, затем фонетика: совпадение кодов
// Double Metaphone и сходство Jaro-Winkler не ниже порога.
type WakeWordDetector struct {
	words     []string
	codes     []map[string]struct{}
	threshold float64
}

// NewWakeWordDetector создаёт детектор. Пустые слова игнорируются.
func NewWakeWordDetector(words []string, threshold float64) *WakeWordDetector {
	d := &WakeWordDetector{threshold: threshold}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		d.words = append(d.words, w)
		d.codes = append(d.codes, metaphoneCodes(w))
	}
	return d
}

// Words слова активации в нижнем регистре
func (d *WakeWordDetector) Words() []string {
	return append([]string(nil), d.words...)
}

// Detect возвращает найденное слово активации
func (d *WakeWordDetector) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, w := range d.words {
		if strings.Contains(lower, w) {
			return w, true
		}
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	best, bestScore := "", 0.0
	for _, tok := range tokens {
		tokCodes := metaphoneCodes(tok)
		for i, w := range d.words {
			if !codesOverlap(tokCodes, d.codes[i]) {
				continue
			}
			score := matchr.JaroWinkler(tok, w, false)
			if score >= d.threshold && score > bestScore {
				best, bestScore = w, score
			}
		}
	}
	return best, best != ""
}

func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
