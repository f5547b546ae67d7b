package structured

// Kind discriminates the variants of a schema Node. The set is closed;
// the generator switches over it exhaustively.
type Kind int

const (
	// KindObject is a JSON object with keyed properties and a required set.
	KindObject Kind = iota
	// KindArray is a JSON array of a single item schema with optional count bounds.
	KindArray
	// KindString is a JSON string, optionally restricted to enum choices.
	KindString
	// KindNumber is a JSON number, optionally integer-only and range-bounded.
	KindNumber
	// KindBoolean is a JSON true/false.
	KindBoolean
	// KindRef is a by-name reference resolved through the schema's Defs table.
	KindRef
	// KindAnyOf is a non-empty list of alternative schemas.
	KindAnyOf
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindRef:
		return "ref"
	case KindAnyOf:
		return "anyOf"
	default:
		return "unknown"
	}
}

// Property is a single named member of an object node. Properties keep
// their declaration order; the generator sorts them lexicographically
// at emission time.
type Property struct {
	Name string
	Node *Node
}

// Node is one node of a schema tree. Only the fields relevant to its
// Kind are populated; the rest stay zero. Nodes are immutable after
// construction.
type Node struct {
	Kind Kind

	// Object
	Properties []Property
	Required   map[string]struct{}

	// Array
	Items    *Node
	MinItems *int
	MaxItems *int

	// String
	EnumChoices []string

	// Number
	IntegerOnly bool
	Minimum     *float64
	Maximum     *float64

	// Ref
	RefName string

	// AnyOf
	Variants []*Node
}

// Schema is an immutable schema tree: a root node plus a table of named
// definitions used to resolve Ref nodes.
type Schema struct {
	Root *Node
	Defs map[string]*Node
}

// Resolve looks up a definition by name. The second return value is
// false when the name is not present in Defs.
func (s *Schema) Resolve(name string) (*Node, bool) {
	if s.Defs == nil {
		return nil, false
	}
	node, ok := s.Defs[name]
	return node, ok
}

// NewSchema builds a Schema from a root node and an optional defs table.
func NewSchema(root *Node, defs map[string]*Node) *Schema {
	return &Schema{Root: root, Defs: defs}
}

// NewObject builds an object node. Required names that do not appear in
// properties are kept; generation simply never emits them.
func NewObject(properties []Property, required ...string) *Node {
	req := make(map[string]struct{}, len(required))
	for _, name := range required {
		req[name] = struct{}{}
	}
	return &Node{Kind: KindObject, Properties: properties, Required: req}
}

// NewArray builds an array node. Pass nil for an absent bound.
func NewArray(items *Node, minItems, maxItems *int) *Node {
	return &Node{Kind: KindArray, Items: items, MinItems: minItems, MaxItems: maxItems}
}

// NewString builds a free string node.
func NewString() *Node {
	return &Node{Kind: KindString}
}

// NewEnum builds a string node restricted to the given choices.
func NewEnum(choices ...string) *Node {
	return &Node{Kind: KindString, EnumChoices: choices}
}

// NewNumber builds a number node. Pass nil for an absent bound.
func NewNumber(integerOnly bool, minimum, maximum *float64) *Node {
	return &Node{Kind: KindNumber, IntegerOnly: integerOnly, Minimum: minimum, Maximum: maximum}
}

// NewBoolean builds a boolean node.
func NewBoolean() *Node {
	return &Node{Kind: KindBoolean}
}

// NewRef builds a reference node. The name must resolve through the
// enclosing schema's Defs at generation time.
func NewRef(name string) *Node {
	return &Node{Kind: KindRef, RefName: name}
}

// NewAnyOf builds an anyOf node over the given variants.
func NewAnyOf(variants ...*Node) *Node {
	return &Node{Kind: KindAnyOf, Variants: variants}
}

// Equal reports whether two nodes are structurally identical.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Kind != other.Kind {
		return false
	}
	switch n.Kind {
	case KindObject:
		if len(n.Properties) != len(other.Properties) || len(n.Required) != len(other.Required) {
			return false
		}
		for i, p := range n.Properties {
			q := other.Properties[i]
			if p.Name != q.Name || !p.Node.Equal(q.Node) {
				return false
			}
		}
		for name := range n.Required {
			if _, ok := other.Required[name]; !ok {
				return false
			}
		}
		return true
	case KindArray:
		return n.Items.Equal(other.Items) &&
			intPtrEqual(n.MinItems, other.MinItems) &&
			intPtrEqual(n.MaxItems, other.MaxItems)
	case KindString:
		if len(n.EnumChoices) != len(other.EnumChoices) {
			return false
		}
		for i, c := range n.EnumChoices {
			if c != other.EnumChoices[i] {
				return false
			}
		}
		return true
	case KindNumber:
		return n.IntegerOnly == other.IntegerOnly &&
			floatPtrEqual(n.Minimum, other.Minimum) &&
			floatPtrEqual(n.Maximum, other.Maximum)
	case KindBoolean:
		return true
	case KindRef:
		return n.RefName == other.RefName
	case KindAnyOf:
		if len(n.Variants) != len(other.Variants) {
			return false
		}
		for i, v := range n.Variants {
			if !v.Equal(other.Variants[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
