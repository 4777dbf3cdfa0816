package condition

import "fmt"

// UnknownConditionError is raised for a leaf key or match mode the engine does
// not implement. It always indicates a content/engine version mismatch.
type UnknownConditionError struct {
	Key    string
	Reason string
}

func (e *UnknownConditionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown condition %q", e.Key)
	}
	return fmt.Sprintf("unknown condition %q: %s", e.Key, e.Reason)
}

// MalformedTreeError is raised for a structurally invalid tree or leaf
// parameters that cannot be decoded. Path is a JSONPath-like locator.
type MalformedTreeError struct {
	Path   string
	Reason string
}

func (e *MalformedTreeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed condition tree: %s", e.Reason)
	}
	return fmt.Sprintf("malformed condition tree at %s: %s", e.Path, e.Reason)
}
