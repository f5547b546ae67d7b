package structured

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// tokenMasks holds the allowed-token sets precomputed from one scan of
// the backend vocabulary. Built once per generator; immutable afterward.
type tokenMasks struct {
	// quoteToken is the single token whose text is exactly `"`.
	quoteToken int
	// stringTerminators = end tokens ∪ {quoteToken}.
	stringTerminators TokenSet
	// stringInitial holds every token usable as the first content token
	// of a string: text is entirely string-safe, whitespace-only text is
	// a single space, tab or newline, and the token is neither special
	// nor an end token.
	stringInitial TokenSet
	// stringContinuation = stringInitial ∪ stringTerminators.
	stringContinuation TokenSet
	// basicTerminators = end tokens ∪ first tokens of ",", "}", "]", ":".
	basicTerminators TokenSet
	// integerTerminators = basicTerminators ∪ tokens of digits and '-'.
	integerTerminators TokenSet
	// doubleTerminators = basicTerminators ∪ tokens of digits, '-', '.'.
	doubleTerminators TokenSet
}

// buildMasks scans vocabulary ids 0..VocabSize once and partitions them
// into the reusable allowed sets that drive every sampling call.
func buildMasks(ctx context.Context, backend TokenBackend) (tokenMasks, error) {
	var m tokenMasks

	quoteIDs, err := backend.Tokenize(ctx, `"`)
	if err != nil {
		return m, fmt.Errorf("could not tokenize opening quote: %w", err)
	}
	if len(quoteIDs) == 0 {
		return m, fmt.Errorf("%w: no token for '\"'", ErrTokenizationFailed)
	}
	m.quoteToken = quoteIDs[0]

	end := backend.EndTokens()

	m.stringTerminators = end.union(TokenSet{m.quoteToken: {}})

	m.basicTerminators = end.union(nil)
	for _, lit := range []string{",", "}", "]", ":"} {
		ids, err := backend.Tokenize(ctx, lit)
		if err != nil {
			return m, fmt.Errorf("could not tokenize %q: %w", lit, err)
		}
		if len(ids) > 0 {
			m.basicTerminators.add(ids[0])
		}
	}

	m.stringInitial = make(TokenSet)
	m.integerTerminators = m.basicTerminators.union(nil)
	m.doubleTerminators = m.basicTerminators.union(nil)

	for id := 0; id < backend.VocabSize(); id++ {
		if backend.IsSpecial(id) || end.Contains(id) {
			continue
		}
		text, ok := backend.TokenText(id)
		if !ok || text == "" {
			continue
		}
		if isStringContent(text) {
			m.stringInitial.add(id)
		}
		if isNumericToken(text, false) {
			m.integerTerminators.add(id)
		}
		if isNumericToken(text, true) {
			m.doubleTerminators.add(id)
		}
	}

	m.stringContinuation = m.stringInitial.union(m.stringTerminators)

	return m, nil
}

// isStringSafe reports whether r may appear unescaped inside a JSON
// string emitted by this package: not a control character, not a quote,
// not a backslash.
func isStringSafe(r rune) bool {
	return !unicode.IsControl(r) && r != '"' && r != '\\'
}

// isStringContent reports whether a token's full text qualifies for the
// string content masks. Whitespace-only text must be exactly one space,
// tab, or newline so sampling cannot stack wide whitespace runs.
func isStringContent(text string) bool {
	if strings.TrimSpace(text) == "" {
		return text == " " || text == "\t" || text == "\n"
	}
	for _, r := range text {
		if !isStringSafe(r) {
			return false
		}
	}
	return true
}

// isNumericToken reports whether a token's text can extend a number:
// non-empty, at least one digit, and only digits and '-' (plus '.' when
// decimal). Mixed digit/non-digit tokens stay out of the numeric masks.
func isNumericToken(text string, decimal bool) bool {
	if text == "" {
		return false
	}
	hasDigit := false
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-':
		case r == '.' && decimal:
		default:
			return false
		}
	}
	return hasDigit
}
