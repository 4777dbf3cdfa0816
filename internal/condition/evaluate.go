package condition

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/kundlicore/internal/chart"
)

// Evaluate reduces the tree against s depth-first, left to right.
//
// "all" stops at the first false child and "any" at the first true child.
// An error from a child is returned as soon as it is reached, so a
// MissingFactError behind a conclusive sibling never surfaces. Primitive
// errors are returned unwrapped for errors.As.
func Evaluate(n Node, s *chart.Snapshot) (bool, error) {
	if s == nil {
		return false, errors.New("nil snapshot")
	}
	return eval(n, s)
}

// Eval is shorthand for Evaluate(n, s).
func (n Node) Eval(s *chart.Snapshot) (bool, error) {
	return Evaluate(n, s)
}

func eval(n Node, s *chart.Snapshot) (bool, error) {
	switch n.Op {
	case OpAll:
		for _, child := range n.Children {
			ok, err := eval(child, s)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpAny:
		for _, child := range n.Children {
			ok, err := eval(child, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpLeaf:
		if n.Leaf == nil {
			return false, &MalformedTreeError{Reason: "leaf node has no primitive"}
		}
		return n.Leaf.Eval(s)
	}
	return false, &MalformedTreeError{Reason: fmt.Sprintf("unsupported node op %s", n.Op)}
}

// Validate checks a tree statically: every node is well formed, every leaf
// key is implemented and every match_mode is supported. It reports the first
// problem in depth-first order.
func Validate(n Node) error {
	return validate(n, "$")
}

func validate(n Node, path string) error {
	switch n.Op {
	case OpAll, OpAny:
		for i, child := range n.Children {
			if err := validate(child, fmt.Sprintf("%s.%s[%d]", path, n.Op, i)); err != nil {
				return err
			}
		}
		return nil

	case OpLeaf:
		if n.Leaf == nil {
			return &MalformedTreeError{Path: path, Reason: "leaf node has no primitive"}
		}
		if u, ok := n.Leaf.(*unknownPrimitive); ok {
			return &UnknownConditionError{Key: u.key, Reason: "at " + path}
		}
		if m, ok := n.Leaf.(modal); ok {
			return checkMatchMode(n.Leaf.Key(), m.matchMode())
		}
		return nil
	}
	return &MalformedTreeError{Path: path, Reason: fmt.Sprintf("unsupported node op %s", n.Op)}
}

// LeafKeys lists the primitive keys used by the tree in depth-first order,
// duplicates included.
func LeafKeys(n Node) []string {
	var keys []string
	var walk func(Node)
	walk = func(n Node) {
		if n.Op == OpLeaf {
			if n.Leaf != nil {
				keys = append(keys, n.Leaf.Key())
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return keys
}
