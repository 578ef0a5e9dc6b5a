// Package repo defines the content repository surface the edit-session
// engine depends on: node properties and aspects, content streams, naming,
// locking, and versioning. The memory subpackage provides the standalone
// implementation; a production deployment binds this to the real repository
// tier.
package repo

import (
	"context"
	"errors"
	"io"

	"github.com/contentworks/drivebridge/internal/model"
)

// Aspect names applied to nodes under edit.
const (
	AspectEditingInGoogle = "gd:editingInGoogle"
	AspectSharedInGoogle  = "gd:sharedInGoogle"
	AspectTemporary       = "sys:temporary"
	AspectVersionable     = "cm:versionable"
)

// Session property names. All live under the editingInGoogle aspect except
// the permission snapshots, which belong to sharedInGoogle.
const (
	PropResourceID         = "gd:resourceID"
	PropWorkingFolderID    = "gd:driveWorkingDir"
	PropEditorURL          = "gd:editorURL"
	PropRevisionID         = "gd:revisionID"
	PropLocked             = "gd:locked"
	PropNativeEditor       = "gd:nativeEditor"
	PropPermissions        = "gd:permissions"
	PropCurrentPermissions = "gd:currentPermissions"
)

var (
	// ErrNotFound is returned for a node or child that does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrNameExists is returned when a sibling already carries the name.
	ErrNameExists = errors.New("name already in use")

	// ErrNameConstraint is returned when a name violates repository naming
	// rules.
	ErrNameConstraint = errors.New("name violates constraint")
)

// Node is the repository's view of a content node.
type Node struct {
	Ref      model.NodeRef
	Parent   model.NodeRef
	Name     string
	Mimetype string
}

// PathContext locates a node for working folder purposes.
type PathContext struct {
	// Site is the containing site's short name, empty outside sites.
	Site string
	// Shared is true for nodes under the shared files area. Meaningful only
	// when Site is empty.
	Shared bool
}

// Store is the repository contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetNode fetches a node, or ErrNotFound.
	GetNode(ctx context.Context, ref model.NodeRef) (*Node, error)

	// CreateNode makes a child node with initial content.
	CreateNode(ctx context.Context, parent model.NodeRef, name, mimetype string, content []byte) (*Node, error)

	// DeleteNode removes a node and its content.
	DeleteNode(ctx context.Context, ref model.NodeRef) error

	// Rename changes a node's name; ErrNameExists when a sibling holds it.
	Rename(ctx context.Context, ref model.NodeRef, name string) error

	// ChildByName finds a direct child, or ErrNotFound.
	ChildByName(ctx context.Context, parent model.NodeRef, name string) (*Node, error)

	// ReadContent streams the node's content. The caller closes it.
	ReadContent(ctx context.Context, ref model.NodeRef) (io.ReadCloser, error)

	// WriteContent replaces the node's content and mimetype.
	WriteContent(ctx context.Context, ref model.NodeRef, mimetype string, r io.Reader) error

	// Property reads a single-valued property, "" when unset.
	Property(ctx context.Context, ref model.NodeRef, name string) (string, error)

	// BoolProperty reads a boolean property, false when unset.
	BoolProperty(ctx context.Context, ref model.NodeRef, name string) (bool, error)

	// MultiProperty reads a multi-valued property, nil when unset.
	MultiProperty(ctx context.Context, ref model.NodeRef, name string) ([]string, error)

	// SetProperties writes properties. Values may be string, bool or
	// []string.
	SetProperties(ctx context.Context, ref model.NodeRef, props map[string]any) error

	// RemoveProperties unsets properties; missing names are ignored.
	RemoveProperties(ctx context.Context, ref model.NodeRef, names ...string) error

	// AddAspect applies an aspect; applying twice is a no-op.
	AddAspect(ctx context.Context, ref model.NodeRef, aspect string) error

	// RemoveAspect removes an aspect and the properties belonging to it.
	RemoveAspect(ctx context.Context, ref model.NodeRef, aspect string) error

	// HasAspect reports whether the aspect is applied.
	HasAspect(ctx context.Context, ref model.NodeRef, aspect string) (bool, error)

	// Lock places a repository lock owned by user.
	Lock(ctx context.Context, ref model.NodeRef, user string) error

	// Unlock releases the repository lock regardless of owner.
	Unlock(ctx context.Context, ref model.NodeRef) error

	// LockOwner returns the lock holder, "" when unlocked.
	LockOwner(ctx context.Context, ref model.NodeRef) (string, error)

	// CreateVersion snapshots the node. Nodes without the versionable
	// aspect get it applied first.
	CreateVersion(ctx context.Context, ref model.NodeRef, vt model.VersionType, description string) error

	// SuspendEvents disables behaviour events for ref until the returned
	// resume func runs. Session bookkeeping writes run inside such a scope
	// so policy rules do not fire on decoration changes. Scopes nest.
	SuspendEvents(ctx context.Context, ref model.NodeRef) (resume func(), err error)

	// PathContext resolves where the node lives for working folder
	// placement.
	PathContext(ctx context.Context, ref model.NodeRef) (PathContext, error)

	// IsSiteManager reports whether user manages the named site.
	IsSiteManager(ctx context.Context, site, user string) (bool, error)
}
