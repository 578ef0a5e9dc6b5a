// Package google implements drive.Client against the Drive v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/model"
)

const fileFields = "id, name, mimeType, description, parents, webViewLink"

// notMutableMessage is the message Drive answers edits of read-only files
// with; it arrives as a 400 and needs telling apart from bad requests.
const notMutableMessage = "File not mutable"

// Client implements drive.Client over the Drive v3 API.
type Client struct {
	service *gdrive.Service
	policy  *format.Policy
}

// NewClient builds a Client on an authenticated http.Client carrying the
// user's credential.
func NewClient(ctx context.Context, httpClient *http.Client) (*Client, error) {
	srv, err := gdrive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to build drive service: %v", err)
	}
	return &Client{service: srv, policy: format.DefaultPolicy()}, nil
}

// CurrentUser probes the account via the About endpoint. A failure here is
// the authoritative signal that the credential is no longer usable.
func (c *Client) CurrentUser(ctx context.Context) (*drive.User, error) {
	about, err := c.service.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return &drive.User{
		Email:       about.User.EmailAddress,
		DisplayName: about.User.DisplayName,
		Permission:  about.User.PermissionId,
	}, nil
}

// CreateFile creates an empty native editor document.
func (c *Client) CreateFile(ctx context.Context, name, mimetype, parentID string) (*model.DriveFile, error) {
	f := &gdrive.File{
		Name:     name,
		MimeType: mimetype,
		Parents:  []string{parentID},
	}
	res, err := c.service.Files.Create(f).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return toModel(res), nil
}

// UploadFile uploads content for editing, converting it to the native format
// of its kind. The content is staged in a temporary file first so the media
// upload can size and retry it; the file is removed on every exit path.
func (c *Client) UploadFile(ctx context.Context, name, mimetype, parentID string, content io.Reader) (*model.DriveFile, error) {
	tmp, err := os.CreateTemp("", "drivebridge-upload-*")
	if err != nil {
		return nil, fmt.Errorf("unable to stage upload: %v", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, content); err != nil {
		return nil, fmt.Errorf("unable to stage upload: %v", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("unable to stage upload: %v", err)
	}

	kind, ok := c.policy.ImportKind(mimetype)
	if !ok {
		return nil, fmt.Errorf("mimetype %q has no editor kind", mimetype)
	}

	f := &gdrive.File{
		Name:     name,
		MimeType: kind.DriveMimetype(),
		Parents:  []string{parentID},
	}
	res, err := c.service.Files.Create(f).
		Media(tmp, googleapi.ContentType(mimetype)).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(err)
	}
	return toModel(res), nil
}

// GetFile fetches file metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*model.DriveFile, error) {
	res, err := c.service.Files.Get(fileID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return toModel(res), nil
}

// DeleteFile removes a file permanently, bypassing the trash.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

// ExportContent streams a native document converted to the given mimetype.
func (c *Client) ExportContent(ctx context.Context, fileID, mimetype string) (io.ReadCloser, error) {
	resp, err := c.service.Files.Export(fileID, mimetype).Context(ctx).Download()
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Body, nil
}

// DownloadContent streams a non-native file's bytes as stored.
func (c *Client) DownloadContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Body, nil
}

// FindFolder locates a child folder by name. When description is non-empty,
// same-named folders without it are skipped, which keeps us from adopting a
// user's unrelated folder of the same name.
func (c *Client) FindFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		parentID, escapeQuery(name), format.MimetypeGoogleFolder)

	pageToken := ""
	for {
		call := c.service.Files.List().Q(q).Fields("nextPageToken, files(" + fileFields + ")").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, mapError(err)
		}
		for _, f := range r.Files {
			if description != "" && f.Description != description {
				continue
			}
			return toModel(f), nil
		}
		if r.NextPageToken == "" {
			return nil, drive.ErrNotFound
		}
		pageToken = r.NextPageToken
	}
}

// CreateFolder creates a child folder.
func (c *Client) CreateFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error) {
	f := &gdrive.File{
		Name:        name,
		MimeType:    format.MimetypeGoogleFolder,
		Description: description,
		Parents:     []string{parentID},
	}
	res, err := c.service.Files.Create(f).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return toModel(res), nil
}

// ListRevisions returns all revisions oldest first, following pagination.
func (c *Client) ListRevisions(ctx context.Context, fileID string) ([]model.Revision, error) {
	var out []model.Revision
	pageToken := ""
	for {
		call := c.service.Revisions.List(fileID).
			Fields("nextPageToken, revisions(id, modifiedTime, lastModifyingUser)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, mapError(err)
		}
		for _, rev := range r.Revisions {
			out = append(out, toRevision(rev))
		}
		if r.NextPageToken == "" {
			return out, nil
		}
		pageToken = r.NextPageToken
	}
}

// HeadRevision returns the newest revision.
func (c *Client) HeadRevision(ctx context.Context, fileID string) (*model.Revision, error) {
	revs, err := c.ListRevisions(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, drive.ErrNotFound
	}
	head := revs[len(revs)-1]
	return &head, nil
}

// ListPermissions returns the file's permissions as they should be
// snapshotted for a later re-grant. The requesting account's own owner entry
// is dropped, since Drive recreates it on any file the account makes.
func (c *Client) ListPermissions(ctx context.Context, fileID string) ([]model.GooglePermission, error) {
	me, err := c.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.GooglePermission
	pageToken := ""
	for {
		call := c.service.Permissions.List(fileID).
			Fields("nextPageToken, permissions(id, type, role, emailAddress, domain)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, mapError(err)
		}
		for _, p := range r.Permissions {
			if perm, ok := snapshotPermission(p, me.Email); ok {
				out = append(out, perm)
			}
		}
		if r.NextPageToken == "" {
			return out, nil
		}
		pageToken = r.NextPageToken
	}
}

// snapshotPermission converts one Drive permission for the snapshot. The
// implicit owner entry for the current account is skipped; owner grants for
// anyone else survive. Readers are recorded as commenters, since the editor
// lets anyone who can view a shared document comment on it and the re-grant
// must reproduce that.
func snapshotPermission(p *gdrive.Permission, currentEmail string) (model.GooglePermission, bool) {
	if p.Role == string(model.RoleOwner) && strings.EqualFold(p.EmailAddress, currentEmail) {
		return model.GooglePermission{}, false
	}
	perm := toPermission(p)
	if perm.Role == model.RoleReader {
		perm.Role = model.RoleCommenter
	}
	return perm, true
}

// CreatePermission grants a permission without a notification email.
func (c *Client) CreatePermission(ctx context.Context, fileID string, perm model.GooglePermission) error {
	p := &gdrive.Permission{
		Type: string(perm.AuthorityType),
		Role: string(perm.Role),
	}
	switch perm.AuthorityType {
	case model.AuthorityUser, model.AuthorityGroup:
		p.EmailAddress = perm.AuthorityID
	case model.AuthorityDomain:
		p.Domain = perm.AuthorityID
	}
	_, err := c.service.Permissions.Create(fileID, p).
		SendNotificationEmail(false).
		Context(ctx).
		Do()
	if err != nil {
		return mapError(err)
	}
	return nil
}

func toModel(f *gdrive.File) *model.DriveFile {
	return &model.DriveFile{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Description: f.Description,
		Parents:     f.Parents,
		WebViewLink: f.WebViewLink,
	}
}

func toRevision(r *gdrive.Revision) model.Revision {
	modTime, _ := time.Parse(time.RFC3339, r.ModifiedTime)
	rev := model.Revision{ID: r.Id, ModifiedTime: modTime}
	if r.LastModifyingUser != nil {
		rev.AuthorEmail = r.LastModifyingUser.EmailAddress
	}
	return rev
}

func toPermission(p *gdrive.Permission) model.GooglePermission {
	id := p.EmailAddress
	if p.Type == string(model.AuthorityDomain) {
		id = p.Domain
	}
	return model.GooglePermission{
		AuthorityType: model.AuthorityType(p.Type),
		AuthorityID:   id,
		Role:          model.Role(p.Role),
	}
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

func mapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == 404 {
			return drive.ErrNotFound
		}
		if strings.Contains(gErr.Message, notMutableMessage) {
			return drive.ErrNotMutable
		}
		return &drive.StatusError{Code: gErr.Code, Message: gErr.Message}
	}
	return err
}
