package session

import "errors"

var (
	// ErrNoSession is returned when an operation needs an active edit
	// session and the node has none.
	ErrNoSession = errors.New("node has no active edit session")

	// ErrAlreadyCheckedOut is returned when a session already exists for
	// the node.
	ErrAlreadyCheckedOut = errors.New("node is already checked out")

	// ErrConcurrentEditors is returned when a save or discard runs into
	// foreign edits and no override was given.
	ErrConcurrentEditors = errors.New("concurrent editors detected")

	// ErrUnsupportedType is returned when the node's mimetype cannot be
	// edited remotely.
	ErrUnsupportedType = errors.New("mimetype is not editable")

	// ErrLockedByOther is returned when the node's session lock belongs to
	// another user.
	ErrLockedByOther = errors.New("node is locked by another user")

	// ErrAccessDenied is returned when the caller lacks the authority for a
	// privileged step, e.g. forced removal of someone else's session.
	ErrAccessDenied = errors.New("access denied")
)
