package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Navy SUIT", "navy suit"},
		{"strips punctuation", "suit, shirt & tie!", "suit shirt tie"},
		{"collapses whitespace", "  navy   suit  ", "navy suit"},
		{"keeps digits", "2-piece set", "2 piece set"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"drops stopwords", "I want a navy suit for the office", []string{"navy", "suit", "office"}},
		{"drops single chars", "x large shirt", []string{"large", "shirt"}},
		{"all stopwords", "give me some", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestTokenizeAllKeepsStopwords(t *testing.T) {
	assert.Equal(t, []string{"set", "of", "plates"}, TokenizeAll("set of plates"))
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		phrase   string
		expected bool
	}{
		{"exact word", "classic navy suit", "suit", true},
		{"multi word phrase", "two piece navy suit jacket", "navy suit", true},
		{"no substring match", "laptop sleeve", "top", false},
		{"punctuation normalized", "Suit (Navy)", "navy", true},
		{"empty phrase", "navy suit", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainsPhrase(tt.haystack, tt.phrase))
		})
	}
}

func TestContainsTokenLoose(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		token    string
		expected bool
	}{
		{"substring within word", "sweatshirts on sale", "shirt", true},
		{"denylisted container", "gaming laptop stand", "top", false},
		{"denylist only blocks listed words", "topcoat and rooftop bar", "top", true},
		{"earring never matches ring", "gold earrings", "ring", false},
		{"plain match", "silver ring", "ring", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainsTokenLoose(tt.haystack, tt.token))
		})
	}
}
