// Package drive defines the remote storage surface the edit-session engine
// depends on. The production implementation lives in the google subpackage;
// tests substitute in-memory fakes.
package drive

import (
	"context"
	"io"

	"github.com/contentworks/drivebridge/internal/model"
)

// User identifies the authenticated Drive account.
type User struct {
	Email       string
	DisplayName string
	Permission  string
}

// Provider hands out a Client bound to one user's credentials.
type Provider interface {
	ClientFor(ctx context.Context, userID string) (Client, error)
}

// Client is the set of remote operations the engine performs. All calls act
// on behalf of a single authenticated user; callers obtain a Client per
// request from the credential gateway.
type Client interface {
	// CurrentUser probes the account the client is bound to.
	CurrentUser(ctx context.Context) (*User, error)

	// CreateFile creates an empty native editor document.
	CreateFile(ctx context.Context, name, mimetype, parentID string) (*model.DriveFile, error)

	// UploadFile uploads content and converts it to the native editor
	// format for its kind.
	UploadFile(ctx context.Context, name, mimetype, parentID string, content io.Reader) (*model.DriveFile, error)

	// GetFile fetches file metadata.
	GetFile(ctx context.Context, fileID string) (*model.DriveFile, error)

	// DeleteFile removes a file permanently.
	DeleteFile(ctx context.Context, fileID string) error

	// ExportContent streams a native editor document converted to the
	// requested mimetype. The caller closes the stream.
	ExportContent(ctx context.Context, fileID, mimetype string) (io.ReadCloser, error)

	// DownloadContent streams a non-native file's stored bytes.
	DownloadContent(ctx context.Context, fileID string) (io.ReadCloser, error)

	// FindFolder locates a child folder by name, trashed excluded. The
	// description narrows the match when non-empty; a miss returns
	// ErrNotFound.
	FindFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error)

	// CreateFolder creates a child folder.
	CreateFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error)

	// ListRevisions returns all revisions of a file, oldest first.
	ListRevisions(ctx context.Context, fileID string) ([]model.Revision, error)

	// HeadRevision returns the newest revision of a file.
	HeadRevision(ctx context.Context, fileID string) (*model.Revision, error)

	// ListPermissions returns the non-owner permissions on a file.
	ListPermissions(ctx context.Context, fileID string) ([]model.GooglePermission, error)

	// CreatePermission grants a permission on a file without sending a
	// notification email.
	CreatePermission(ctx context.Context, fileID string, perm model.GooglePermission) error
}
