package doctree

import "errors"

var (
	// ErrInvalidTreeOperation reports a structural misuse of the tree:
	// double parenting, a reference node under another parent, a
	// cross-document attach or removal of a detached node.
	ErrInvalidTreeOperation = errors.New("invalid tree operation")

	// ErrCrossParentRange reports a range whose endpoints do not share a parent.
	ErrCrossParentRange = errors.New("range endpoints have different parents")

	ErrTypeMismatch      = errors.New("node type mismatch")
	ErrUnresultedField   = errors.New("field has no result")
	ErrMalformedField    = errors.New("malformed field")
	ErrDanglingReference = errors.New("dangling reference")
	ErrDuplicateStyle    = errors.New("duplicate style")
	ErrNotFound          = errors.New("not found")
)
