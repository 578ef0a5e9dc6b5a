// Package session owns the lifecycle of a node checked out for remote
// editing: working directory provisioning, session decoration, locking,
// concurrent-edit detection, and the content pull-back that ends or renews a
// session. Remote and local state share no transaction; every multi-step
// operation declares its compensating cleanup up front.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/contentworks/drivebridge/internal/activity"
	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/model"
	"github.com/contentworks/drivebridge/internal/naming"
	"github.com/contentworks/drivebridge/internal/repo"
)

// Options configures a Reconciler for one acting principal.
type Options struct {
	// User is the acting principal's repository user name.
	User string
	// Admin marks a repository administrator, who may force-remove any
	// session.
	Admin bool
	// IdleThreshold is the trailing window for concurrent-edit detection.
	// Zero disables the window: any differing-author revision counts.
	IdleThreshold time.Duration
}

// Result is what a successful create or upload hands back to the caller.
type Result struct {
	Node      *repo.Node
	EditorURL string
}

// SaveOptions controls a save round-trip.
type SaveOptions struct {
	MajorVersion    bool
	Description     string
	Override        bool
	RemoveFromDrive bool
}

// Reconciler executes edit-session operations on behalf of a single user.
// Construct one per request; it is cheap and carries the user's remote
// client.
type Reconciler struct {
	store    repo.Store
	drive    drive.Client
	policy   *format.Policy
	notifier activity.Notifier
	opts     Options
}

// New builds a Reconciler. notifier may be nil to drop activity events.
func New(store repo.Store, client drive.Client, policy *format.Policy, notifier activity.Notifier, opts Options) *Reconciler {
	return &Reconciler{
		store:    store,
		drive:    client,
		policy:   policy,
		notifier: notifier,
		opts:     opts,
	}
}

// Create provisions a brand-new editor document of the given kind under
// parent: remote file first, then the local placeholder node. The node comes
// back checked out, locked, and flagged temporary until its first save. A
// local failure after the remote create triggers a compensating remote
// delete; a remote failure leaves the repository untouched.
func (r *Reconciler) Create(ctx context.Context, kind format.Kind, parent model.NodeRef) (*Result, error) {
	wf, err := r.ensureWorkingFolder(ctx, parent)
	if err != nil {
		return nil, err
	}

	name := naming.Unique(kind.DefaultName(), func(n string) bool {
		_, err := r.store.ChildByName(ctx, parent, n)
		return err == nil
	})

	file, err := r.drive.CreateFile(ctx, name, kind.DriveMimetype(), wf.folder.ID)
	if err != nil {
		r.cleanupFolders(ctx, wf)
		return nil, err
	}

	var node *repo.Node
	err = compensate(ctx, func() error {
		var err error
		node, err = r.store.CreateNode(ctx, parent, name, kind.LocalMimetype(), kind.Template())
		if err != nil {
			return err
		}
		if err := r.store.AddAspect(ctx, node.Ref, repo.AspectTemporary); err != nil {
			return err
		}
		return r.decorate(ctx, node.Ref, file, wf.folder.ID)
	}, func(ctx context.Context) {
		if node != nil {
			if err := r.store.DeleteNode(ctx, node.Ref); err != nil {
				r.logf("cleanup of node %s failed: %v", node.Ref, err)
			}
		}
		if err := r.drive.DeleteFile(ctx, file.ID); err != nil {
			r.logf("cleanup of remote file %s failed: %v", file.ID, err)
		}
		r.cleanupFolders(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	return &Result{Node: node, EditorURL: r.editorURL(file)}, nil
}

// Upload pushes an existing node's content into a fresh remote working copy
// and checks the node out. Permissions recorded from an earlier session, and
// any extra ones the caller supplies, are re-applied to the new remote file;
// the extras are also snapshotted so a future recreation can re-apply them.
func (r *Reconciler) Upload(ctx context.Context, ref model.NodeRef, perms []model.GooglePermission) (*Result, error) {
	node, err := r.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if has, err := r.hasSession(ctx, ref); err != nil {
		return nil, err
	} else if has {
		return nil, ErrAlreadyCheckedOut
	}
	if !r.policy.IsImportable(node.Mimetype) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, node.Mimetype)
	}
	if err := r.checkLockable(ctx, ref); err != nil {
		return nil, err
	}

	wf, err := r.ensureWorkingFolder(ctx, ref)
	if err != nil {
		return nil, err
	}

	content, err := r.store.ReadContent(ctx, ref)
	if err != nil {
		r.cleanupFolders(ctx, wf)
		return nil, err
	}
	file, err := r.drive.UploadFile(ctx, node.Name, node.Mimetype, wf.folder.ID, content)
	content.Close()
	if err != nil {
		r.cleanupFolders(ctx, wf)
		return nil, err
	}

	err = compensate(ctx, func() error {
		if err := r.decorate(ctx, ref, file, wf.folder.ID); err != nil {
			return err
		}
		return r.applyPermissions(ctx, ref, file.ID, perms)
	}, func(ctx context.Context) {
		if err := r.drive.DeleteFile(ctx, file.ID); err != nil {
			r.logf("cleanup of remote file %s failed: %v", file.ID, err)
		}
		r.cleanupFolders(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	return &Result{Node: node, EditorURL: r.editorURL(file)}, nil
}

// Save ends or renews the session: it refuses on foreign concurrent edits
// unless overridden, pulls content back, and snapshots a version. When txn is
// non-nil and the caller is not the lock owner, the remote teardown is
// deferred to the unit of work's rollback instead of aborting outright.
func (r *Reconciler) Save(ctx context.Context, ref model.NodeRef, opts SaveOptions, txn *Txn) error {
	if has, err := r.hasSession(ctx, ref); err != nil {
		return err
	} else if !has {
		return ErrNoSession
	}

	if err := r.checkOwnership(ctx, ref, txn); err != nil {
		return err
	}

	if !opts.Override {
		concurrent, err := r.HasConcurrentEditors(ctx, ref)
		if err != nil {
			return err
		}
		if concurrent {
			return ErrConcurrentEditors
		}
	}

	if err := r.PullBack(ctx, ref, opts.RemoveFromDrive); err != nil {
		return err
	}

	vt := model.VersionMinor
	if opts.MajorVersion {
		vt = model.VersionMajor
	}
	return r.store.CreateVersion(ctx, ref, vt, opts.Description)
}

// PullBack brings the remote working copy's content into the node. A remote
// not-found during a removing pull-back means the desired end state is
// already reached: the session is cleared and the operation reports success.
func (r *Reconciler) PullBack(ctx context.Context, ref model.NodeRef, removeFromDrive bool) error {
	node, err := r.store.GetNode(ctx, ref)
	if err != nil {
		return err
	}
	resourceID, err := r.store.Property(ctx, ref, repo.PropResourceID)
	if err != nil {
		return err
	}
	if resourceID == "" {
		return ErrNoSession
	}
	exportMime := r.policy.ExportMimetype(node.Mimetype)

	file, err := r.drive.GetFile(ctx, resourceID)
	if errors.Is(err, drive.ErrNotFound) && removeFromDrive {
		// Already reconciled from the remote side.
		return r.clearSession(ctx, ref)
	}
	if err != nil {
		return err
	}

	content, err := r.fetchContent(ctx, ref, file, exportMime)
	if err != nil {
		return err
	}
	err = r.store.WriteContent(ctx, ref, exportMime, content)
	content.Close()
	if err != nil {
		return err
	}

	if err := r.normalizeName(ctx, ref, node, exportMime); err != nil {
		return err
	}

	// ACL snapshot is for future restores; losing it degrades sharing state
	// but never a completed content recovery.
	if perms, err := r.drive.ListPermissions(ctx, resourceID); err != nil {
		r.logf("permission snapshot for %s failed: %v", ref, err)
	} else if len(perms) > 0 {
		if err := r.store.AddAspect(ctx, ref, repo.AspectSharedInGoogle); err != nil {
			return err
		}
		err = r.store.SetProperties(ctx, ref, map[string]any{
			repo.PropPermissions: model.SerializePermissions(perms),
		})
		if err != nil {
			return err
		}
	}

	if removeFromDrive {
		workingFolderID, _ := r.store.Property(ctx, ref, repo.PropWorkingFolderID)
		if err := r.removeRemote(ctx, resourceID, workingFolderID, false); err != nil {
			return err
		}
		if err := r.clearSession(ctx, ref); err != nil {
			return err
		}
	} else {
		head, err := r.drive.HeadRevision(ctx, resourceID)
		if err != nil {
			return err
		}
		err = r.store.SetProperties(ctx, ref, map[string]any{repo.PropRevisionID: head.ID})
		if err != nil {
			return err
		}
	}

	temporary, err := r.store.HasAspect(ctx, ref, repo.AspectTemporary)
	if err != nil {
		return err
	}
	r.notify(ctx, ref, node.Name, temporary)

	if temporary {
		if err := r.store.RemoveAspect(ctx, ref, repo.AspectTemporary); err != nil {
			return err
		}
	}
	return nil
}

// Discard abandons the session without saving. Foreign concurrent edits
// block it unless overridden, same as save.
func (r *Reconciler) Discard(ctx context.Context, ref model.NodeRef, override bool, txn *Txn) error {
	if has, err := r.hasSession(ctx, ref); err != nil {
		return err
	} else if !has {
		return ErrNoSession
	}
	if err := r.checkOwnership(ctx, ref, txn); err != nil {
		return err
	}
	if !override {
		concurrent, err := r.HasConcurrentEditors(ctx, ref)
		if err != nil {
			return err
		}
		if concurrent {
			return ErrConcurrentEditors
		}
	}
	return r.RemoveContent(ctx, ref, false)
}

// RemoveContent tears the session down without a content pull-back: remote
// file, then working folder, then local decoration. With force, remote
// errors are logged and swallowed so a dead remote can never strand the
// local lock. A node still flagged temporary is deleted outright rather than
// left as an empty shell.
func (r *Reconciler) RemoveContent(ctx context.Context, ref model.NodeRef, force bool) error {
	resourceID, err := r.store.Property(ctx, ref, repo.PropResourceID)
	if err != nil {
		return err
	}
	workingFolderID, _ := r.store.Property(ctx, ref, repo.PropWorkingFolderID)

	if err := r.removeRemote(ctx, resourceID, workingFolderID, force); err != nil {
		return err
	}

	temporary, err := r.store.HasAspect(ctx, ref, repo.AspectTemporary)
	if err != nil {
		return err
	}
	if err := r.clearSession(ctx, ref); err != nil {
		return err
	}
	if temporary {
		return r.store.DeleteNode(ctx, ref)
	}
	return nil
}

// CanRemove reports whether the acting user may force another user's session
// away: the lock owner may, an administrator may, and the containing site's
// manager may.
func (r *Reconciler) CanRemove(ctx context.Context, ref model.NodeRef) (bool, error) {
	if r.opts.Admin {
		return true, nil
	}
	owner, err := r.store.LockOwner(ctx, ref)
	if err != nil {
		return false, err
	}
	if owner == "" || owner == r.opts.User {
		return true, nil
	}
	if site := r.pathSite(ctx, ref); site != "" {
		return r.store.IsSiteManager(ctx, site, r.opts.User)
	}
	return false, nil
}

// HasConcurrentEditors inspects the remote revision history for edits by
// someone else. The single-vs-many branch runs on the raw revision count,
// before any author filtering: a history that is more than the initial copy
// gets the stricter multi-revision scan. A lone revision counts only when it
// is both foreign and older than the idle threshold, since a fresh one is
// presumed to be the current user's own save still propagating under the
// remote account. With several revisions, any foreign revision inside the
// trailing window counts; authorless entries are the system copy and are
// skipped there.
func (r *Reconciler) HasConcurrentEditors(ctx context.Context, ref model.NodeRef) (bool, error) {
	resourceID, err := r.store.Property(ctx, ref, repo.PropResourceID)
	if err != nil {
		return false, err
	}
	if resourceID == "" {
		return false, ErrNoSession
	}

	me, err := r.drive.CurrentUser(ctx)
	if err != nil {
		return false, err
	}

	revs, err := r.listRevisions(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if len(revs) == 0 {
		return false, nil
	}

	cutoff := time.Now().Add(-r.opts.IdleThreshold)

	if len(revs) == 1 {
		rev := revs[0]
		if rev.AuthorEmail == "" || rev.AuthorEmail == me.Email {
			return false, nil
		}
		if r.opts.IdleThreshold == 0 {
			return true, nil
		}
		return rev.ModifiedTime.Before(cutoff), nil
	}

	sorted := make([]model.Revision, len(revs))
	copy(sorted, revs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ModifiedTime.After(sorted[j].ModifiedTime)
	})
	for _, rev := range sorted {
		if r.opts.IdleThreshold > 0 && rev.ModifiedTime.Before(cutoff) {
			break
		}
		if rev.AuthorEmail == "" || rev.AuthorEmail == me.Email {
			continue
		}
		return true, nil
	}
	return false, nil
}

// listRevisions lists the remote revision history. Drive intermittently
// answers 500 for a file that was deleted out from under the session; a
// follow-up file get distinguishes that case so callers see a 404 for the
// missing file instead of a spurious server error.
func (r *Reconciler) listRevisions(ctx context.Context, resourceID string) ([]model.Revision, error) {
	revs, err := r.drive.ListRevisions(ctx, resourceID)
	if err == nil {
		return revs, nil
	}
	if drive.StatusCode(err) == http.StatusInternalServerError {
		if _, getErr := r.drive.GetFile(ctx, resourceID); errors.Is(getErr, drive.ErrNotFound) {
			return nil, &drive.StatusError{
				Code:    http.StatusNotFound,
				Message: "file " + resourceID + " no longer exists in Drive",
			}
		}
	}
	return nil, err
}

// IsLatestRevision reports whether the node's recorded revision is still the
// remote head.
func (r *Reconciler) IsLatestRevision(ctx context.Context, ref model.NodeRef) (bool, error) {
	resourceID, err := r.store.Property(ctx, ref, repo.PropResourceID)
	if err != nil {
		return false, err
	}
	if resourceID == "" {
		return false, ErrNoSession
	}
	stored, err := r.store.Property(ctx, ref, repo.PropRevisionID)
	if err != nil {
		return false, err
	}
	head, err := r.drive.HeadRevision(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return stored == head.ID, nil
}

// Lock marks the node locked for remote editing. Locking a node already
// locked by the same user is a no-op. A locked property with no host lock
// behind it is drift from a partial failure; it is healed by re-locking
// rather than trusted.
func (r *Reconciler) Lock(ctx context.Context, ref model.NodeRef) error {
	locked, err := r.store.BoolProperty(ctx, ref, repo.PropLocked)
	if err != nil {
		return err
	}
	if locked {
		owner, err := r.store.LockOwner(ctx, ref)
		if err != nil {
			return err
		}
		switch owner {
		case r.opts.User:
			return nil
		case "":
			// Stale flag, heal and fall through to lock.
		default:
			return ErrLockedByOther
		}
	}
	err = r.store.SetProperties(ctx, ref, map[string]any{repo.PropLocked: true})
	if err != nil {
		return err
	}
	return r.store.Lock(ctx, ref, r.opts.User)
}

// Unlock releases the session lock.
func (r *Reconciler) Unlock(ctx context.Context, ref model.NodeRef) error {
	err := r.store.SetProperties(ctx, ref, map[string]any{repo.PropLocked: false})
	if err != nil {
		return err
	}
	return r.store.Unlock(ctx, ref)
}

// Session reads the node's current session decoration.
func (r *Reconciler) Session(ctx context.Context, ref model.NodeRef) (*model.EditSession, error) {
	if has, err := r.hasSession(ctx, ref); err != nil {
		return nil, err
	} else if !has {
		return nil, ErrNoSession
	}
	s := &model.EditSession{}
	var err error
	if s.ResourceID, err = r.store.Property(ctx, ref, repo.PropResourceID); err != nil {
		return nil, err
	}
	if s.WorkingFolderID, err = r.store.Property(ctx, ref, repo.PropWorkingFolderID); err != nil {
		return nil, err
	}
	if s.EditorURL, err = r.store.Property(ctx, ref, repo.PropEditorURL); err != nil {
		return nil, err
	}
	if s.RevisionID, err = r.store.Property(ctx, ref, repo.PropRevisionID); err != nil {
		return nil, err
	}
	if s.NativeEditor, err = r.store.BoolProperty(ctx, ref, repo.PropNativeEditor); err != nil {
		return nil, err
	}
	return s, nil
}

// hasSession reports an active checkout: the aspect plus a live resource id.
func (r *Reconciler) hasSession(ctx context.Context, ref model.NodeRef) (bool, error) {
	has, err := r.store.HasAspect(ctx, ref, repo.AspectEditingInGoogle)
	if err != nil || !has {
		return false, err
	}
	resourceID, err := r.store.Property(ctx, ref, repo.PropResourceID)
	if err != nil {
		return false, err
	}
	return resourceID != "", nil
}

// editorURL resolves the link handed to the editor frontend. For a native
// file the canonical edit URL is built from its kind, since the webViewLink
// Drive returns may open a viewer. Non-native files keep the webViewLink.
func (r *Reconciler) editorURL(file *model.DriveFile) string {
	if kind, ok := format.KindForDriveMimetype(file.MimeType); ok {
		return kind.EditorURL(file.ID)
	}
	return file.WebViewLink
}

// decorate writes the session metadata and takes the lock. The writes run
// inside an event-suspension scope: they are bookkeeping, and repository
// policies must not treat them as user edits.
func (r *Reconciler) decorate(ctx context.Context, ref model.NodeRef, file *model.DriveFile, workingFolderID string) error {
	resume, err := r.store.SuspendEvents(ctx, ref)
	if err != nil {
		return err
	}
	defer resume()

	if err := r.store.AddAspect(ctx, ref, repo.AspectEditingInGoogle); err != nil {
		return err
	}
	err = r.store.SetProperties(ctx, ref, map[string]any{
		repo.PropResourceID:      file.ID,
		repo.PropWorkingFolderID: workingFolderID,
		repo.PropEditorURL:       r.editorURL(file),
		repo.PropNativeEditor:    format.IsGoogleMimetype(file.MimeType),
	})
	if err != nil {
		return err
	}
	return r.Lock(ctx, ref)
}

// clearSession removes the decoration and releases the lock. The shared
// aspect and its permission snapshot survive as history for later re-edits.
func (r *Reconciler) clearSession(ctx context.Context, ref model.NodeRef) error {
	resume, err := r.store.SuspendEvents(ctx, ref)
	if err != nil {
		return err
	}
	defer resume()

	if err := r.Unlock(ctx, ref); err != nil {
		return err
	}
	return r.store.RemoveAspect(ctx, ref, repo.AspectEditingInGoogle)
}

// checkLockable refuses to start a session over someone else's lock.
func (r *Reconciler) checkLockable(ctx context.Context, ref model.NodeRef) error {
	owner, err := r.store.LockOwner(ctx, ref)
	if err != nil {
		return err
	}
	if owner != "" && owner != r.opts.User {
		return ErrLockedByOther
	}
	return nil
}

// checkOwnership guards save and discard. When the caller may act anyway
// (admin or site manager), a cleanup releasing the lock and removing remote
// content is registered on the unit of work's rollback path, so a failed
// override still unwinds the session it seized.
func (r *Reconciler) checkOwnership(ctx context.Context, ref model.NodeRef, txn *Txn) error {
	owner, err := r.store.LockOwner(ctx, ref)
	if err != nil {
		return err
	}
	if owner == "" || owner == r.opts.User {
		return nil
	}
	ok, err := r.CanRemove(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	if txn != nil {
		txn.AfterRollback(func(ctx context.Context) {
			if err := r.RemoveContent(ctx, ref, true); err != nil {
				r.logf("post-rollback cleanup of %s failed: %v", ref, err)
			}
		})
	}
	return nil
}

// fetchContent chooses the export mechanism. Sessions created through the
// native editors use the conversion export; a conversion refusal falls back
// to the raw bytes, since some remote states reject conversion but still
// serve content. Sessions that never became native fetch raw bytes directly.
func (r *Reconciler) fetchContent(ctx context.Context, ref model.NodeRef, file *model.DriveFile, exportMime string) (io.ReadCloser, error) {
	native, err := r.store.BoolProperty(ctx, ref, repo.PropNativeEditor)
	if err != nil {
		return nil, err
	}
	if native || format.IsGoogleMimetype(file.MimeType) {
		stream, err := r.drive.ExportContent(ctx, file.ID, exportMime)
		if err == nil {
			return stream, nil
		}
		r.logf("conversion export of %s failed, fetching raw content: %v", file.ID, err)
	}
	return r.drive.DownloadContent(ctx, file.ID)
}

// normalizeName applies the extension rules for the stored mimetype and
// resolves duplicates against siblings. An unchanged name writes nothing, so
// no spurious version bump.
func (r *Reconciler) normalizeName(ctx context.Context, ref model.NodeRef, node *repo.Node, mimetype string) error {
	name := naming.Normalize(mimetype, node.Name)
	if name == node.Name {
		return nil
	}
	name = naming.Unique(name, func(n string) bool {
		sibling, err := r.store.ChildByName(ctx, node.Parent, n)
		return err == nil && sibling.Ref != ref
	})
	if name == node.Name {
		return nil
	}
	if err := r.store.Rename(ctx, ref, name); err != nil {
		return err
	}
	node.Name = name
	return nil
}

// applyPermissions re-applies the node's recorded ACL snapshot plus the
// caller-supplied grants to the fresh remote file, and snapshots the
// supplied grants for the next recreation.
func (r *Reconciler) applyPermissions(ctx context.Context, ref model.NodeRef, fileID string, extra []model.GooglePermission) error {
	saved, err := r.store.MultiProperty(ctx, ref, repo.PropPermissions)
	if err != nil {
		return err
	}
	for _, p := range model.ParsePermissions(saved) {
		if err := r.drive.CreatePermission(ctx, fileID, p); err != nil {
			r.logf("restoring permission %s on %s failed: %v", p, fileID, err)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	for _, p := range extra {
		if err := r.drive.CreatePermission(ctx, fileID, p); err != nil {
			return err
		}
	}
	if err := r.store.AddAspect(ctx, ref, repo.AspectSharedInGoogle); err != nil {
		return err
	}
	return r.store.SetProperties(ctx, ref, map[string]any{
		repo.PropCurrentPermissions: model.SerializePermissions(extra),
	})
}

// removeRemote deletes the remote file then its working folder. With force,
// remote failures are logged only; the local teardown must proceed.
func (r *Reconciler) removeRemote(ctx context.Context, resourceID, workingFolderID string, force bool) error {
	if resourceID != "" {
		err := r.drive.DeleteFile(ctx, resourceID)
		if err != nil && !errors.Is(err, drive.ErrNotFound) {
			if !force {
				return err
			}
			r.logf("forced removal: remote delete of %s failed: %v", resourceID, err)
		}
	}
	if err := r.deleteWorkingFolder(ctx, workingFolderID); err != nil {
		if !force {
			return err
		}
		r.logf("forced removal: working folder delete of %s failed: %v", workingFolderID, err)
	}
	return nil
}

// notify posts the activity event for a finished pull-back. Site-scoped
// only, best effort. A first save (node still flagged temporary) announces
// the file itself rather than an edit.
func (r *Reconciler) notify(ctx context.Context, ref model.NodeRef, title string, added bool) {
	if r.notifier == nil {
		return
	}
	site := r.pathSite(ctx, ref)
	if site == "" {
		return
	}
	eventType := activity.TypeFileEdited
	if added {
		eventType = activity.TypeFileAdded
	}
	err := r.notifier.Post(ctx, activity.Event{
		Type:    eventType,
		SiteID:  site,
		Actor:   r.opts.User,
		Title:   title,
		NodeRef: ref,
	})
	if err != nil {
		r.logf("activity notification for %s failed: %v", ref, err)
	}
}

func (r *Reconciler) logf(msg string, args ...any) {
	log.Printf(msg, args...)
}
