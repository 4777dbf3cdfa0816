// Package condition implements the condition tree language used by authored
// variants: boolean "all"/"any" combinators over leaf primitives such as
// planet_in_house or dasha_running.
//
// Trees are decoded from their authored JSON shape, where every node is an
// object with exactly one key:
//
//	{"all": [
//	    {"planet_in_house": {"planet_in": ["SUN", "JUPITER"], "house_in": [10], "match_mode": "any", "min_planets": 1}},
//	    {"overall_benefic_score": {"min": 0.6}}
//	]}
//
// Evaluation is a pure depth-first reduction against a chart.Snapshot.
package condition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// Op is the node kind.
type Op int

const (
	OpLeaf Op = iota
	OpAll
	OpAny
)

func (o Op) String() string {
	switch o {
	case OpLeaf:
		return "leaf"
	case OpAll:
		return "all"
	case OpAny:
		return "any"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Node is one node of a condition tree. Combinators carry Children, leaves
// carry a Primitive.
type Node struct {
	Op       Op
	Children []Node
	Leaf     Primitive
}

// All builds an "all" node. With no children it is vacuously true.
func All(children ...Node) Node {
	return Node{Op: OpAll, Children: children}
}

// Any builds an "any" node. With no children it is false.
func Any(children ...Node) Node {
	return Node{Op: OpAny, Children: children}
}

// Leaf wraps a primitive as a node.
func Leaf(p Primitive) Node {
	return Node{Op: OpLeaf, Leaf: p}
}

// Parse decodes a tree from its authored JSON shape. Unknown leaf keys are
// kept so that Validate and Evaluate can report them as UnknownConditionError;
// structural problems fail here with MalformedTreeError.
func Parse(data []byte) (Node, error) {
	return parseNode(data, "$")
}

func parseNode(data json.RawMessage, path string) (Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Node{}, &MalformedTreeError{Path: path, Reason: "node must be an object"}
	}
	if len(fields) != 1 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Node{}, &MalformedTreeError{
			Path:   path,
			Reason: fmt.Sprintf("node must have exactly one key, got %d [%s]", len(fields), strings.Join(keys, ", ")),
		}
	}

	for key, raw := range fields {
		switch key {
		case "all", "any":
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil || items == nil {
				return Node{}, &MalformedTreeError{Path: path + "." + key, Reason: "expected an array of nodes"}
			}
			children := make([]Node, 0, len(items))
			for i, item := range items {
				child, err := parseNode(item, fmt.Sprintf("%s.%s[%d]", path, key, i))
				if err != nil {
					return Node{}, err
				}
				children = append(children, child)
			}
			if key == "all" {
				return All(children...), nil
			}
			return Any(children...), nil

		default:
			decode, ok := registry[key]
			if !ok {
				return Leaf(&unknownPrimitive{key: key, raw: append(json.RawMessage(nil), raw...)}), nil
			}
			p, err := decode(raw)
			if err != nil {
				return Node{}, &MalformedTreeError{Path: path + "." + key, Reason: err.Error()}
			}
			return Leaf(p), nil
		}
	}
	panic("unreachable")
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalJSON renders the node back into its authored shape.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Op {
	case OpAll, OpAny:
		children := n.Children
		if children == nil {
			children = []Node{}
		}
		return json.Marshal(map[string][]Node{n.Op.String(): children})
	case OpLeaf:
		if n.Leaf == nil {
			return nil, &MalformedTreeError{Reason: "leaf node has no primitive"}
		}
		return json.Marshal(map[string]Primitive{n.Leaf.Key(): n.Leaf})
	}
	return nil, &MalformedTreeError{Reason: fmt.Sprintf("unsupported node op %s", n.Op)}
}

// JSONSchema describes the node for generated bundle schemas. The tree is
// recursive and keyed by primitive name, so it is exposed as an open object
// and checked by Parse/Validate instead.
func (Node) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Condition tree node: exactly one of all, any, or a primitive key (" + strings.Join(Keys(), ", ") + ").",
	}
}

// Keys returns the registered primitive keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
