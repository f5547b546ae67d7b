package vocab

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/CTAG07/Drosera/pkg/structured"
)

// candidate pairs a token id with its vocabulary frequency during
// sampling.
type candidate struct {
	id   int
	freq int
}

// backendOptions configures sampling behavior for a Backend.
type backendOptions struct {
	temperature float64
	topK        int
	seed        *uint64
}

// BackendOption is a function that configures a Backend.
type BackendOption func(*backendOptions)

// WithTemperature adjusts the randomness of token selection within the
// allowed set. A value of 1.0 is standard frequency-weighted selection.
// Values > 1.0 flatten the distribution; values < 1.0 sharpen it. A
// value of 0 or less is deterministic: the most frequent allowed token
// wins, with the lowest id breaking ties.
func WithTemperature(t float64) BackendOption {
	return func(o *backendOptions) { o.temperature = t }
}

// WithTopK restricts selection to the k most frequent allowed tokens at
// each step. A value of 0 disables Top-K filtering.
func WithTopK(k int) BackendOption {
	return func(o *backendOptions) { o.topK = k }
}

// WithSeed fixes the sampler's random source for reproducible runs.
func WithSeed(seed uint64) BackendOption {
	return func(o *backendOptions) { o.seed = &seed }
}

// Backend serves a stored vocabulary to the structured generator. The
// whole vocabulary is loaded into memory at construction; tokenization
// is greedy longest-match and sampling is frequency-weighted within the
// allowed set. A Backend carries the mutable decode stream and token
// budget, and must not be shared across concurrent generations.
type Backend struct {
	textByID    []string
	idByText    map[string]int
	freq        []int
	special     map[int]struct{}
	maxTokenLen int

	eos       int
	total     int
	remaining int
	decoded   []int

	temperature float64
	topK        int
	rng         *rand.Rand
}

var _ structured.TokenBackend = (*Backend)(nil)

// NewBackend loads the stored vocabulary into memory and returns a
// Backend with the given token budget. The store is only read during
// construction; the Backend never touches the database afterward.
func NewBackend(ctx context.Context, store *Store, budget int, opts ...BackendOption) (*Backend, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", budget)
	}

	tokens, err := store.AllTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}

	options := &backendOptions{
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}

	maxID := 0
	for _, tok := range tokens {
		if tok.ID > maxID {
			maxID = tok.ID
		}
	}

	b := &Backend{
		textByID:    make([]string, maxID+1),
		idByText:    make(map[string]int, len(tokens)),
		freq:        make([]int, maxID+1),
		special:     make(map[int]struct{}),
		eos:         EOSTokenID,
		total:       budget,
		remaining:   budget,
		temperature: options.temperature,
		topK:        options.topK,
	}

	for _, tok := range tokens {
		b.textByID[tok.ID] = tok.Text
		b.freq[tok.ID] = tok.Frequency
		if tok.Special {
			b.special[tok.ID] = struct{}{}
			continue
		}
		// Prefer the smallest id when two entries share a text.
		if prev, ok := b.idByText[tok.Text]; !ok || tok.ID < prev {
			b.idByText[tok.Text] = tok.ID
		}
		if len(tok.Text) > b.maxTokenLen {
			b.maxTokenLen = len(tok.Text)
		}
	}

	if options.seed != nil {
		b.rng = rand.New(rand.NewPCG(*options.seed, *options.seed^0x9e3779b97f4a7c15))
	} else {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return b, nil
}

// Tokenize splits a literal into token ids by greedy longest-match
// against the vocabulary. It fails when some position matches no token.
func (b *Backend) Tokenize(_ context.Context, text string) ([]int, error) {
	var ids []int
	for len(text) > 0 {
		limit := b.maxTokenLen
		if len(text) < limit {
			limit = len(text)
		}
		matched := false
		for l := limit; l >= 1; l-- {
			if id, ok := b.idByText[text[:l]]; ok {
				ids = append(ids, id)
				text = text[l:]
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("no vocabulary token matches %q", text)
		}
	}
	return ids, nil
}

// TokenText returns the text of a vocabulary token. Special tokens and
// out-of-range ids report no text.
func (b *Backend) TokenText(id int) (string, bool) {
	if id < 0 || id >= len(b.textByID) {
		return "", false
	}
	if _, special := b.special[id]; special {
		return "", false
	}
	text := b.textByID[id]
	return text, text != ""
}

// IsSpecial reports whether id is a reserved control token.
func (b *Backend) IsSpecial(id int) bool {
	_, ok := b.special[id]
	return ok
}

// Decode commits a token to the decode stream and spends one unit of
// the budget.
func (b *Backend) Decode(_ context.Context, id int) error {
	if b.remaining <= 0 {
		return fmt.Errorf("token budget exhausted")
	}
	if id < 0 || id >= len(b.textByID) {
		return fmt.Errorf("token %d outside vocabulary", id)
	}
	b.decoded = append(b.decoded, id)
	b.remaining--
	return nil
}

// Sample draws one token from the allowed set, weighted by vocabulary
// frequency under the configured temperature and top-K policy.
func (b *Backend) Sample(_ context.Context, allowed structured.TokenSet) (int, error) {
	if len(allowed) == 0 {
		return 0, fmt.Errorf("empty allowed set")
	}

	candidates := make([]candidate, 0, len(allowed))
	for id := range allowed {
		if id < 0 || id >= len(b.freq) {
			continue
		}
		freq := b.freq[id]
		if freq < 1 {
			freq = 1
		}
		candidates = append(candidates, candidate{id: id, freq: freq})
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no allowed token is in the vocabulary")
	}
	// Ascending id order keeps deterministic modes reproducible.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].id < candidates[j].id
	})

	return b.choose(candidates), nil
}

// choose abstracts the token selection policy from Sample: top-K
// prefilter, then deterministic, plain weighted, or temperature-scaled
// selection.
func (b *Backend) choose(candidates []candidate) int {
	if b.topK > 0 && b.topK < len(candidates) {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].freq > candidates[j].freq
		})
		candidates = candidates[:b.topK]
	}

	if b.temperature <= 0 { // Deterministic
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.freq > best.freq {
				best = c
			}
		}
		return best.id
	}

	if b.temperature == 1.0 { // Standard weighted random
		totalFreq := 0
		for _, c := range candidates {
			totalFreq += c.freq
		}
		randChoice := b.rng.IntN(totalFreq)
		for _, c := range candidates {
			randChoice -= c.freq
			if randChoice < 0 {
				return c.id
			}
		}
		return candidates[len(candidates)-1].id
	}

	// Temperature-based sampling
	logProbabilities := make([]float64, len(candidates))
	maxLP := math.Inf(-1)
	for i, c := range candidates {
		lp := math.Log(float64(c.freq)) / b.temperature
		logProbabilities[i] = lp
		if lp > maxLP {
			maxLP = lp
		}
	}
	var totalWeight float64
	weights := make([]float64, len(candidates))
	for i, lp := range logProbabilities {
		w := math.Exp(lp - maxLP)
		weights[i] = w
		totalWeight += w
	}
	randChoice := b.rng.Float64() * totalWeight
	for i, c := range candidates {
		randChoice -= weights[i]
		if randChoice < 0 {
			return c.id
		}
	}
	return candidates[len(candidates)-1].id
}

// EOSToken returns the end-of-sequence token id.
func (b *Backend) EOSToken() int { return b.eos }

// EndTokens returns the set of end tokens.
func (b *Backend) EndTokens() structured.TokenSet {
	return structured.TokenSet{b.eos: {}}
}

// VocabSize returns the number of token ids; ids range over [0, VocabSize).
func (b *Backend) VocabSize() int { return len(b.textByID) }

// RemainingTokens returns the number of commits still permitted.
func (b *Backend) RemainingTokens() int { return b.remaining }

// TotalTokenBudget returns the budget the Backend started with.
func (b *Backend) TotalTokenBudget() int { return b.total }

// Decoded returns the token ids committed so far, in commit order.
func (b *Backend) Decoded() []int { return b.decoded }

// DecodedText reconstructs the text of the decode stream.
func (b *Backend) DecodedText() string {
	var sb strings.Builder
	for _, id := range b.decoded {
		if id >= 0 && id < len(b.textByID) {
			sb.WriteString(b.textByID[id])
		}
	}
	return sb.String()
}
