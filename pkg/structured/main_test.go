package structured

import (
	"context"
	"fmt"
	"testing"
)

// Canonical test vocabulary ids. Digits 0-9 map to ids 0-9, lowercase
// letters to ids 10-35, punctuation is configured explicitly, EOS is id
// 100 and one special pad token sits at id 101.
const (
	tokQuote    = 40
	tokLBrace   = 41
	tokRBrace   = 42
	tokLBracket = 43
	tokRBracket = 44
	tokComma    = 45
	tokColon    = 46
	tokSpace    = 50
	tokEOS      = 100
	tokPad      = 101

	testVocabSize = 128
	testBudget    = 256
)

// testBackend is a deterministic TokenBackend: Sample records the
// allowed set and returns its smallest id (or pops a scripted pick),
// Tokenize is greedy longest-match over the configured vocabulary, and
// Decode drains a token budget.
type testBackend struct {
	texts    map[int]string
	byText   map[string]int
	maxLen   int
	special  map[int]struct{}
	eos      int
	vocab    int
	total    int
	budget   int
	decoded  []int
	sampled  []TokenSet
	picks    []int
	script   []int
	failTok  bool
	tokenize func(text string) ([]int, error)
}

func newTestBackend(t testing.TB) *testBackend {
	t.Helper()
	b := &testBackend{
		texts:   make(map[int]string),
		special: map[int]struct{}{tokPad: {}},
		eos:     tokEOS,
		vocab:   testVocabSize,
		total:   testBudget,
		budget:  testBudget,
	}
	for d := 0; d <= 9; d++ {
		b.texts[d] = fmt.Sprintf("%d", d)
	}
	for i := 0; i < 26; i++ {
		b.texts[10+i] = string(rune('a' + i))
	}
	b.texts[tokQuote] = `"`
	b.texts[tokLBrace] = "{"
	b.texts[tokRBrace] = "}"
	b.texts[tokLBracket] = "["
	b.texts[tokRBracket] = "]"
	b.texts[tokComma] = ","
	b.texts[tokColon] = ":"
	b.texts[tokSpace] = " "
	b.texts[tokPad] = "<pad>"
	b.rebuildIndex()
	return b
}

// addToken registers an extra vocabulary token, for tests that need
// multi-character or whitespace-prefixed tokens.
func (b *testBackend) addToken(id int, text string) {
	b.texts[id] = text
	b.rebuildIndex()
}

func (b *testBackend) rebuildIndex() {
	b.byText = make(map[string]int, len(b.texts))
	b.maxLen = 0
	for id, text := range b.texts {
		if _, special := b.special[id]; special {
			continue
		}
		// Prefer the smallest id when two ids share a text.
		if prev, ok := b.byText[text]; !ok || id < prev {
			b.byText[text] = id
		}
		if len(text) > b.maxLen {
			b.maxLen = len(text)
		}
	}
}

func (b *testBackend) Tokenize(_ context.Context, text string) ([]int, error) {
	if b.failTok {
		return nil, fmt.Errorf("tokenizer offline")
	}
	if b.tokenize != nil {
		return b.tokenize(text)
	}
	var ids []int
	for len(text) > 0 {
		matched := false
		limit := b.maxLen
		if len(text) < limit {
			limit = len(text)
		}
		for l := limit; l >= 1; l-- {
			if id, ok := b.byText[text[:l]]; ok {
				ids = append(ids, id)
				text = text[l:]
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("no token for %q", text)
		}
	}
	return ids, nil
}

func (b *testBackend) TokenText(id int) (string, bool) {
	text, ok := b.texts[id]
	return text, ok
}

func (b *testBackend) IsSpecial(id int) bool {
	_, ok := b.special[id]
	return ok
}

func (b *testBackend) Decode(_ context.Context, id int) error {
	if b.budget <= 0 {
		return fmt.Errorf("decode with empty budget")
	}
	b.decoded = append(b.decoded, id)
	b.budget--
	return nil
}

func (b *testBackend) Sample(_ context.Context, allowed TokenSet) (int, error) {
	if len(allowed) == 0 {
		return 0, fmt.Errorf("empty allowed set")
	}
	recorded := make(TokenSet, len(allowed))
	for id := range allowed {
		recorded.add(id)
	}
	b.sampled = append(b.sampled, recorded)

	var pick int
	if len(b.script) > 0 {
		pick = b.script[0]
		b.script = b.script[1:]
		if !allowed.Contains(pick) {
			return 0, fmt.Errorf("scripted pick %d not in allowed set", pick)
		}
	} else {
		pick = -1
		for id := range allowed {
			if pick < 0 || id < pick {
				pick = id
			}
		}
	}
	b.picks = append(b.picks, pick)
	return pick, nil
}

func (b *testBackend) EOSToken() int { return b.eos }

func (b *testBackend) EndTokens() TokenSet { return TokenSet{b.eos: {}} }

func (b *testBackend) VocabSize() int { return b.vocab }

func (b *testBackend) RemainingTokens() int { return b.budget }

func (b *testBackend) TotalTokenBudget() int { return b.total }

// mustGenerator builds a Generator over the test backend or fails the test.
func mustGenerator(t testing.TB, backend TokenBackend, schema *Schema) *Generator {
	t.Helper()
	g, err := New(context.Background(), backend, schema)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
