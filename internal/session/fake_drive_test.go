package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/model"
)

// fakeDrive implements drive.Client with in-memory state and per-call
// failure injection.
type fakeDrive struct {
	mu      sync.Mutex
	nextID  int
	files   map[string]*model.DriveFile
	content map[string][]byte
	revs    map[string][]model.Revision
	perms   map[string][]model.GooglePermission
	user    drive.User

	// fail maps an operation name to the error it should return.
	fail map[string]error

	deleted []string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		files:   make(map[string]*model.DriveFile),
		content: make(map[string][]byte),
		revs:    make(map[string][]model.Revision),
		perms:   make(map[string][]model.GooglePermission),
		user:    drive.User{Email: "jane@example.com", DisplayName: "Jane"},
		fail:    make(map[string]error),
	}
}

func (f *fakeDrive) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeDrive) check(op string) error {
	if err, ok := f.fail[op]; ok {
		return err
	}
	return nil
}

func (f *fakeDrive) newFile(name, mimetype, parentID string) *model.DriveFile {
	f.nextID++
	id := fmt.Sprintf("file-%d", f.nextID)
	file := &model.DriveFile{
		ID:          id,
		Name:        name,
		MimeType:    mimetype,
		Parents:     []string{parentID},
		WebViewLink: "https://docs.example.com/d/" + id,
	}
	f.files[id] = file
	return file
}

func (f *fakeDrive) CurrentUser(ctx context.Context) (*drive.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CurrentUser"); err != nil {
		return nil, err
	}
	u := f.user
	return &u, nil
}

func (f *fakeDrive) CreateFile(ctx context.Context, name, mimetype, parentID string) (*model.DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreateFile"); err != nil {
		return nil, err
	}
	return f.newFile(name, mimetype, parentID), nil
}

func (f *fakeDrive) UploadFile(ctx context.Context, name, mimetype, parentID string, content io.Reader) (*model.DriveFile, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("UploadFile"); err != nil {
		return nil, err
	}
	kind, ok := format.DefaultPolicy().ImportKind(mimetype)
	if !ok {
		return nil, fmt.Errorf("no kind for %s", mimetype)
	}
	file := f.newFile(name, kind.DriveMimetype(), parentID)
	f.content[file.ID] = b
	return file, nil
}

func (f *fakeDrive) GetFile(ctx context.Context, fileID string) (*model.DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("GetFile"); err != nil {
		return nil, err
	}
	file, ok := f.files[fileID]
	if !ok {
		return nil, drive.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeDrive) DeleteFile(ctx context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("DeleteFile"); err != nil {
		return err
	}
	if _, ok := f.files[fileID]; !ok {
		return drive.ErrNotFound
	}
	delete(f.files, fileID)
	delete(f.content, fileID)
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeDrive) ExportContent(ctx context.Context, fileID, mimetype string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ExportContent"); err != nil {
		return nil, err
	}
	if _, ok := f.files[fileID]; !ok {
		return nil, drive.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(f.content[fileID])), nil
}

func (f *fakeDrive) DownloadContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("DownloadContent"); err != nil {
		return nil, err
	}
	if _, ok := f.files[fileID]; !ok {
		return nil, drive.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(f.content[fileID])), nil
}

func (f *fakeDrive) FindFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("FindFolder"); err != nil {
		return nil, err
	}
	for _, file := range f.files {
		if file.MimeType != format.MimetypeGoogleFolder {
			continue
		}
		if len(file.Parents) == 0 || file.Parents[0] != parentID || file.Name != name {
			continue
		}
		if description != "" && file.Description != description {
			continue
		}
		cp := *file
		return &cp, nil
	}
	return nil, drive.ErrNotFound
}

func (f *fakeDrive) CreateFolder(ctx context.Context, parentID, name, description string) (*model.DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreateFolder"); err != nil {
		return nil, err
	}
	folder := f.newFile(name, format.MimetypeGoogleFolder, parentID)
	folder.Description = description
	return folder, nil
}

func (f *fakeDrive) ListRevisions(ctx context.Context, fileID string) ([]model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListRevisions"); err != nil {
		return nil, err
	}
	return append([]model.Revision(nil), f.revs[fileID]...), nil
}

func (f *fakeDrive) HeadRevision(ctx context.Context, fileID string) (*model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("HeadRevision"); err != nil {
		return nil, err
	}
	revs := f.revs[fileID]
	if len(revs) == 0 {
		return nil, drive.ErrNotFound
	}
	head := revs[len(revs)-1]
	return &head, nil
}

func (f *fakeDrive) ListPermissions(ctx context.Context, fileID string) ([]model.GooglePermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListPermissions"); err != nil {
		return nil, err
	}
	return append([]model.GooglePermission(nil), f.perms[fileID]...), nil
}

func (f *fakeDrive) CreatePermission(ctx context.Context, fileID string, perm model.GooglePermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreatePermission"); err != nil {
		return err
	}
	f.perms[fileID] = append(f.perms[fileID], perm)
	return nil
}

// folderCount counts live folders. Test helper for cleanup assertions.
func (f *fakeDrive) folderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file.MimeType == format.MimetypeGoogleFolder {
			n++
		}
	}
	return n
}

// fileCount counts live non-folder files.
func (f *fakeDrive) fileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file.MimeType != format.MimetypeGoogleFolder {
			n++
		}
	}
	return n
}
