package model

import (
	"fmt"
	"strings"
	"time"
)

// NodeRef identifies a node in the content repository.
type NodeRef string

func (n NodeRef) String() string { return string(n) }

// UserToken represents a principal's OAuth2 credential record as stored in
// DynamoDB (or the in-memory fallback). The refresh token is encrypted at
// rest; the access token and its absolute expiry are kept so a still-valid
// token can be reused without a refresh round-trip.
type UserToken struct {
	UserID                string    `json:"user_id" dynamodbav:"user_id"`
	AccessToken           string    `json:"access_token" dynamodbav:"access_token"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	Expiry                time.Time `json:"expiry" dynamodbav:"expiry"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// EditSession is the session state decorated onto a node while it is checked
// out to Drive. All fields are materialized as node properties; there is no
// separate session store.
type EditSession struct {
	// ResourceID is the Drive file id of the working copy.
	ResourceID string
	// WorkingFolderID is the Drive folder holding the working copy, kept so
	// orphaned folders can be cleaned up on teardown.
	WorkingFolderID string
	// EditorURL is the externally reachable edit URL. Derived, not
	// authoritative.
	EditorURL string
	// RevisionID is the last Drive revision synchronized into the node.
	RevisionID string
	// NativeEditor records, at session creation, whether the working copy is
	// a native Docs editor type. The export path branches on this instead of
	// re-deriving it from the editor URL.
	NativeEditor bool
}

// AuthorityType is the kind of authority a Drive permission applies to.
type AuthorityType string

const (
	AuthorityUser   AuthorityType = "user"
	AuthorityGroup  AuthorityType = "group"
	AuthorityDomain AuthorityType = "domain"
	AuthorityAnyone AuthorityType = "anyone"
)

// Role is a Drive permission role.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleReader    Role = "reader"
	RoleWriter    Role = "writer"
	RoleCommenter Role = "commenter"
)

// GooglePermission is one entry of a Drive ACL as persisted on a node.
type GooglePermission struct {
	AuthorityID   string
	AuthorityType AuthorityType
	Role          Role
}

// String serializes the permission as "authorityType|authorityId|role".
func (p GooglePermission) String() string {
	return string(p.AuthorityType) + "|" + p.AuthorityID + "|" + string(p.Role)
}

// ParsePermission is the inverse of GooglePermission.String.
func ParsePermission(s string) (GooglePermission, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return GooglePermission{}, fmt.Errorf("bad number of fields in permission %q: need 3, found %d", s, len(parts))
	}
	return GooglePermission{
		AuthorityType: AuthorityType(parts[0]),
		AuthorityID:   parts[1],
		Role:          Role(parts[2]),
	}, nil
}

// ValidAuthorityType reports whether t is one of the supported types.
func ValidAuthorityType(t AuthorityType) bool {
	switch t {
	case AuthorityUser, AuthorityGroup, AuthorityDomain, AuthorityAnyone:
		return true
	}
	return false
}

// ValidRole reports whether r is one of the supported roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleReader, RoleWriter, RoleCommenter:
		return true
	}
	return false
}

// SerializePermissions builds the multi-valued property representation of a
// permission list. A nil list yields nil so the property stays unset.
func SerializePermissions(perms []GooglePermission) []string {
	if perms == nil {
		return nil
	}
	vals := make([]string, 0, len(perms))
	for _, p := range perms {
		vals = append(vals, p.String())
	}
	return vals
}

// ParsePermissions parses a stored multi-valued permission property.
// Malformed entries are skipped; they never abort the whole collection.
func ParsePermissions(vals []string) []GooglePermission {
	if vals == nil {
		return nil
	}
	perms := make([]GooglePermission, 0, len(vals))
	for _, v := range vals {
		p, err := ParsePermission(v)
		if err != nil {
			continue
		}
		perms = append(perms, p)
	}
	return perms
}

// Revision is a Drive file revision as seen by the reconciler.
type Revision struct {
	ID           string
	ModifiedTime time.Time
	// AuthorEmail is empty for the initial system-created copy.
	AuthorEmail string
}

// DriveFile is the subset of Drive file metadata the reconciler works with.
type DriveFile struct {
	ID          string
	Name        string
	MimeType    string
	Description string
	Parents     []string
	WebViewLink string
}

// VersionType selects major or minor version creation on save.
type VersionType string

const (
	VersionMajor VersionType = "MAJOR"
	VersionMinor VersionType = "MINOR"
)
