package textutil

import "strings"

// Variants returns morphological variants of a single-word term: the term
// itself, plural/singular forms, and decompounded halves when both halves
// appear in the pool vocabulary. Multi-word terms are returned unchanged;
// phrase matching already handles their internal boundaries.
func Variants(term string, vocab map[string]struct{}) []string {
	term = Normalize(term)
	if term == "" {
		return nil
	}
	if strings.Contains(term, " ") {
		return []string{term}
	}

	seen := map[string]struct{}{term: {}}
	out := []string{term}

	add := func(v string) {
		if v == "" || len(v) < 3 {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	for _, v := range pluralSingular(term) {
		add(v)
	}

	// Decompounding: "sweatpants" -> "sweat" + "pants" when both halves are
	// words the pool itself uses. Splitting against the pool vocabulary keeps
	// the expansion from drifting into unrelated categories.
	for _, half := range decompound(term, vocab) {
		add(half)
		for _, v := range pluralSingular(half) {
			add(v)
		}
	}

	return out
}

// pluralSingular returns simple plural/singular counterparts of a word.
func pluralSingular(word string) []string {
	var out []string

	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		out = append(out, strings.TrimSuffix(word, "ies")+"y")
	case strings.HasSuffix(word, "es") && len(word) > 4:
		out = append(out, strings.TrimSuffix(word, "es"))
		out = append(out, strings.TrimSuffix(word, "s"))
	case strings.HasSuffix(word, "s") && len(word) > 3:
		out = append(out, strings.TrimSuffix(word, "s"))
	}

	if !strings.HasSuffix(word, "s") {
		if strings.HasSuffix(word, "y") && len(word) > 3 {
			out = append(out, strings.TrimSuffix(word, "y")+"ies")
		} else {
			out = append(out, word+"s")
		}
	}

	return out
}

// decompound splits a compound word into two halves when both halves occur
// in the vocabulary. Only words of at least six characters are considered.
func decompound(word string, vocab map[string]struct{}) []string {
	if len(word) < 6 || len(vocab) == 0 {
		return nil
	}

	for i := 3; i <= len(word)-3; i++ {
		left, right := word[:i], word[i:]
		if _, ok := vocab[left]; !ok {
			continue
		}
		if _, ok := vocab[right]; !ok {
			continue
		}
		return []string{left, right}
	}
	return nil
}

// Vocabulary builds a token set from a list of documents. Used to bound
// decompounding to words the candidate pool actually contains.
func Vocabulary(docs []string) map[string]struct{} {
	vocab := make(map[string]struct{})
	for _, doc := range docs {
		for _, tok := range Tokenize(doc) {
			vocab[tok] = struct{}{}
		}
	}
	return vocab
}
