package structured

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
)

const (
	// numberTokenCap bounds the sampling loop for a single number.
	numberTokenCap = 16
	// defaultArrayCount is used when a schema gives no item bounds.
	defaultArrayCount = 4
)

// Generator walks a schema and drives a TokenBackend to produce a JSON
// document whose shape conforms to it. A Generator owns its backend
// exclusively for the duration of a Generate call and must not be
// shared across goroutines during one.
type Generator struct {
	backend TokenBackend
	schema  *Schema
	masks   tokenMasks
	out     strings.Builder
	logger  *slog.Logger
}

// New constructs a Generator for the given backend and schema. The
// vocabulary is scanned once here to precompute the allowed-token masks;
// construction fails if the backend has no token for the quote character
// or reports an error during the scan.
func New(ctx context.Context, backend TokenBackend, schema *Schema) (*Generator, error) {
	masks, err := buildMasks(ctx, backend)
	if err != nil {
		return nil, err
	}
	return &Generator{
		backend: backend,
		schema:  schema,
		masks:   masks,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the Generator. By default, all logs are
// discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Output returns the characters committed so far. After a successful
// Generate it equals the returned document; after an error it holds the
// partial output emitted before the failure.
func (g *Generator) Output() string {
	return g.out.String()
}

// Generate traverses the schema root and returns the generated JSON
// document. The first error aborts generation; the backend's decode
// stream then reflects exactly what was committed before the failure.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if err := g.generateNode(ctx, g.schema.Root); err != nil {
		return "", err
	}
	g.logger.DebugContext(ctx, "generation complete",
		slog.Int("output_length", g.out.Len()),
		slog.Int("remaining_tokens", g.backend.RemainingTokens()),
	)
	return g.out.String(), nil
}

// generateNode dispatches on the node kind.
func (g *Generator) generateNode(ctx context.Context, node *Node) error {
	switch node.Kind {
	case KindObject:
		return g.generateObject(ctx, node)
	case KindArray:
		return g.generateArray(ctx, node)
	case KindString:
		return g.generateString(ctx, node)
	case KindNumber:
		return g.generateNumber(ctx, node)
	case KindBoolean:
		return g.generateBoolean(ctx)
	case KindRef:
		resolved, ok := g.schema.Resolve(node.RefName)
		if !ok {
			return missingRef(node.RefName)
		}
		return g.generateNode(ctx, resolved)
	case KindAnyOf:
		return g.generateAnyOf(ctx, node)
	default:
		return fmt.Errorf("unhandled schema kind %v", node.Kind)
	}
}

// emitLiteral tokenizes a fixed string and commits each resulting token,
// appending its source text to the output. This path never samples.
func (g *Generator) emitLiteral(ctx context.Context, s string) error {
	ids, err := g.backend.Tokenize(ctx, s)
	if err != nil {
		return fmt.Errorf("could not tokenize literal %q: %w", s, err)
	}
	for _, id := range ids {
		if g.backend.RemainingTokens() <= 0 {
			return ErrTokenBudgetExceeded
		}
		if err := g.backend.Decode(ctx, id); err != nil {
			return fmt.Errorf("could not commit literal token %d: %w", id, err)
		}
		if text, ok := g.backend.TokenText(id); ok {
			g.out.WriteString(text)
		}
	}
	return nil
}

// generateObject emits the object's properties in lexicographic order.
// Required properties are always present; optional ones are included by
// a deterministic predicate over the property name and the remaining
// budget, so omission patterns reproduce for identical budget states.
func (g *Generator) generateObject(ctx context.Context, node *Node) error {
	names := make([]string, 0, len(node.Properties))
	byName := make(map[string]*Node, len(node.Properties))
	for _, p := range node.Properties {
		names = append(names, p.Name)
		byName[p.Name] = p.Node
	}
	sort.Strings(names)

	included := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := node.Required[name]; ok {
			included = append(included, name)
			continue
		}
		if g.includeOptional(name) {
			included = append(included, name)
		}
	}

	if err := g.emitLiteral(ctx, "{"); err != nil {
		return err
	}
	for i, name := range included {
		if i > 0 {
			if err := g.emitLiteral(ctx, ","); err != nil {
				return err
			}
		}
		if err := g.emitLiteral(ctx, `"`+name+`":`); err != nil {
			return err
		}
		if err := g.generateNode(ctx, byName[name]); err != nil {
			return err
		}
	}
	return g.emitLiteral(ctx, "}")
}

// includeOptional decides whether an optional property is emitted. The
// budget must comfortably exceed a floor, and a name hash XORed with the
// remaining budget must land even.
func (g *Generator) includeOptional(name string) bool {
	floor := g.backend.TotalTokenBudget() / 10
	if floor < 8 {
		floor = 8
	}
	if g.backend.RemainingTokens() <= floor {
		return false
	}
	return (nameHash(name)^uint(g.backend.RemainingTokens()))%2 == 0
}

// nameHash is a 31-multiply accumulator over the UTF-8 bytes of s.
func nameHash(s string) uint {
	var h uint
	for _, b := range []byte(s) {
		h = h*31 + uint(b)
	}
	return h
}

// generateArray picks an item count from the declared bounds and emits
// the item schema that many times.
func (g *Generator) generateArray(ctx context.Context, node *Node) error {
	count := arrayCount(node.MinItems, node.MaxItems)

	if err := g.emitLiteral(ctx, "["); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := g.emitLiteral(ctx, ","); err != nil {
				return err
			}
		}
		if err := g.generateNode(ctx, node.Items); err != nil {
			return err
		}
	}
	return g.emitLiteral(ctx, "]")
}

// arrayCount resolves the item count policy: uniform in [min, max] when
// both bounds are consistent, the smaller bound when they are inverted,
// the single bound when only one is given, and a default otherwise.
func arrayCount(minItems, maxItems *int) int {
	switch {
	case minItems != nil && maxItems != nil:
		lo, hi := *minItems, *maxItems
		if lo > hi {
			return hi
		}
		return lo + rand.IntN(hi-lo+1)
	case minItems != nil:
		return *minItems
	case maxItems != nil:
		return *maxItems
	default:
		return defaultArrayCount
	}
}

// generateString emits a quoted string: a constrained enum choice when
// choices are declared, otherwise freely sampled content under a
// budget-proportional cap. Content is trimmed of surrounding whitespace
// before the closing quote.
func (g *Generator) generateString(ctx context.Context, node *Node) error {
	if err := g.emitLiteral(ctx, `"`); err != nil {
		return err
	}

	var content string
	var err error
	if len(node.EnumChoices) > 0 {
		// An incomplete selection means the budget ran out; the closing
		// quote emission below surfaces the budget error.
		content, _, err = g.selectChoice(ctx, node.EnumChoices)
	} else {
		content, err = g.sampleFreeString(ctx)
	}
	if err != nil {
		return err
	}

	g.out.WriteString(strings.TrimSpace(content))
	return g.emitLiteral(ctx, `"`)
}

// sampleFreeString drains string-content tokens from the backend until a
// terminator is drawn, the budget runs out, or the per-string cap is hit.
// Leading whitespace on a token is stripped when the content already
// ends with whitespace, so runs never stack.
func (g *Generator) sampleFreeString(ctx context.Context) (string, error) {
	limit := g.backend.TotalTokenBudget() / 4
	if limit < 32 {
		limit = 32
	}
	if remaining := g.backend.RemainingTokens(); remaining < limit {
		limit = remaining
	}

	var content strings.Builder
	for count := 0; g.backend.RemainingTokens() > 0 && count < limit; count++ {
		allowed := g.masks.stringContinuation
		if content.Len() == 0 {
			allowed = g.masks.stringInitial
		}

		id, err := g.backend.Sample(ctx, allowed)
		if err != nil {
			return "", fmt.Errorf("string sampling failed: %w", err)
		}
		if g.masks.stringTerminators.Contains(id) {
			break
		}

		text, ok := g.backend.TokenText(id)
		if !ok {
			return "", fmt.Errorf("%w: sampled token %d has no text", ErrTokenizationFailed, id)
		}
		if endsWithSpace(content.String()) && startsWithSpace(text) {
			text = strings.TrimLeft(text, " \t\n")
		}
		content.WriteString(text)
		if err := g.backend.Decode(ctx, id); err != nil {
			return "", fmt.Errorf("could not commit string token %d: %w", id, err)
		}
	}
	return content.String(), nil
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\n") != s
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\n") != s
}

// generateNumber samples numeric tokens until a structural terminator is
// drawn or the loop cap is hit, then parses, clamps and canonicalizes
// the accumulated text before appending it to the output.
func (g *Generator) generateNumber(ctx context.Context, node *Node) error {
	allowed := g.masks.doubleTerminators
	if node.IntegerOnly {
		allowed = g.masks.integerTerminators
	}

	var raw strings.Builder
	for i := 0; i < numberTokenCap; i++ {
		if g.backend.RemainingTokens() <= 0 {
			return ErrTokenBudgetExceeded
		}
		id, err := g.backend.Sample(ctx, allowed)
		if err != nil {
			return fmt.Errorf("number sampling failed: %w", err)
		}
		if g.masks.basicTerminators.Contains(id) {
			break
		}
		text, ok := g.backend.TokenText(id)
		if !ok {
			return fmt.Errorf("%w: sampled token %d has no text", ErrTokenizationFailed, id)
		}
		raw.WriteString(text)
		if err := g.backend.Decode(ctx, id); err != nil {
			return fmt.Errorf("could not commit number token %d: %w", id, err)
		}
	}

	text := raw.String()
	if text == "" {
		text = "0"
	}

	if node.IntegerOnly {
		g.out.WriteString(clampInteger(text, node.Minimum, node.Maximum))
	} else {
		g.out.WriteString(clampReal(text, node.Minimum, node.Maximum))
	}
	return nil
}

// clampInteger parses text as an integer (zero on failure), clamps it to
// [ceil(min), floor(max)] and formats it in canonical decimal.
func clampInteger(text string, minimum, maximum *float64) string {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		v = 0
	}
	if minimum != nil {
		if lo := int64(math.Ceil(*minimum)); v < lo {
			v = lo
		}
	}
	if maximum != nil {
		if hi := int64(math.Floor(*maximum)); v > hi {
			v = hi
		}
	}
	return strconv.FormatInt(v, 10)
}

// clampReal parses text as a real (zero on failure), clamps it to the
// declared range, and formats it compactly: no decimal point for
// mathematically integral values, six significant digits otherwise.
func clampReal(text string, minimum, maximum *float64) string {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		v = 0
	}
	if minimum != nil && v < *minimum {
		v = *minimum
	}
	if maximum != nil && v > *maximum {
		v = *maximum
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// generateBoolean runs choice selection over the two JSON booleans.
func (g *Generator) generateBoolean(ctx context.Context) error {
	emitted, complete, err := g.selectChoice(ctx, []string{"true", "false"})
	if err != nil {
		return err
	}
	if !complete {
		return ErrTokenBudgetExceeded
	}
	g.out.WriteString(emitted)
	return nil
}

// generateAnyOf picks a variant deterministically from the remaining
// budget and recurses. The pick is reproducible for a given budget
// state; callers wanting stochastic variant choice should randomize at
// the backend instead.
func (g *Generator) generateAnyOf(ctx context.Context, node *Node) error {
	if len(node.Variants) == 0 {
		return ErrEmptyAnyOf
	}
	if len(node.Variants) == 1 {
		return g.generateNode(ctx, node.Variants[0])
	}
	idx := g.backend.RemainingTokens() % len(node.Variants)
	return g.generateNode(ctx, node.Variants[idx])
}

// selectChoice emits exactly one of the candidate strings token by
// token. After every step the emitted text is a prefix of at least one
// surviving candidate. The second return value reports whether a
// candidate was fully matched; it is false only when the budget ran out
// mid-selection.
func (g *Generator) selectChoice(ctx context.Context, candidates []string) (string, bool, error) {
	prefixes := make([][]int, 0, len(candidates))
	for _, c := range candidates {
		ids, err := g.backend.Tokenize(ctx, c)
		if err != nil {
			return "", false, fmt.Errorf("could not tokenize candidate %q: %w", c, err)
		}
		if len(ids) > 0 {
			prefixes = append(prefixes, ids)
		}
	}
	if len(prefixes) == 0 {
		return "", false, fmt.Errorf("%w: no tokenizable candidates", ErrTokenizationFailed)
	}

	var emitted strings.Builder
	position := 0
	for {
		done := false
		allowed := make(TokenSet)
		for _, p := range prefixes {
			if len(p) == position {
				done = true
				break
			}
			allowed.add(p[position])
		}
		if done {
			return emitted.String(), true, nil
		}
		if len(allowed) == 0 || g.backend.RemainingTokens() <= 0 {
			break
		}

		id, err := g.backend.Sample(ctx, allowed)
		if err != nil {
			return "", false, fmt.Errorf("choice sampling failed: %w", err)
		}
		if text, ok := g.backend.TokenText(id); ok {
			emitted.WriteString(text)
		}
		if err := g.backend.Decode(ctx, id); err != nil {
			return "", false, fmt.Errorf("could not commit choice token %d: %w", id, err)
		}

		survivors := prefixes[:0]
		for _, p := range prefixes {
			if len(p) > position && p[position] == id {
				survivors = append(survivors, p)
			}
		}
		prefixes = survivors
		position++
		if len(prefixes) == 0 {
			break
		}
	}
	return emitted.String(), false, nil
}
