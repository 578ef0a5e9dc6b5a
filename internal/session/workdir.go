package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/model"
)

// workingFolder is the remote folder an operation places its working copy
// in, plus what was created on the way there so a compensating cleanup can
// remove exactly that.
type workingFolder struct {
	folder      *model.DriveFile
	createdIDs  []string
	createdRoot bool
}

// ensureWorkingFolder provisions the working directory tree for the node:
// the global working directory under the Drive root, then a per-context
// subfolder named after the containing site, or the shared/private files
// area. Existing folders are reused; the root folder is matched by its
// description marker so a user's unrelated folder of the same name is never
// adopted.
func (r *Reconciler) ensureWorkingFolder(ctx context.Context, ref model.NodeRef) (*workingFolder, error) {
	wf := &workingFolder{}

	root, err := r.drive.FindFolder(ctx, format.RootFolderID, format.WorkingFolderName, format.WorkingFolderDesc)
	if errors.Is(err, drive.ErrNotFound) {
		root, err = r.drive.CreateFolder(ctx, format.RootFolderID, format.WorkingFolderName, format.WorkingFolderDesc)
		if err == nil {
			wf.createdIDs = append(wf.createdIDs, root.ID)
			wf.createdRoot = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to provision working directory: %w", err)
	}

	pc, err := r.store.PathContext(ctx, ref)
	if err != nil {
		return nil, err
	}
	subName := pc.Site
	if subName == "" {
		if pc.Shared {
			subName = format.SharedFilesFolderName
		} else {
			subName = format.MyFilesFolderName
		}
	}

	sub, err := r.drive.FindFolder(ctx, root.ID, subName, "")
	if errors.Is(err, drive.ErrNotFound) {
		sub, err = r.drive.CreateFolder(ctx, root.ID, subName, "")
		if err == nil {
			wf.createdIDs = append(wf.createdIDs, sub.ID)
		}
	}
	if err != nil {
		r.cleanupFolders(ctx, wf)
		return nil, fmt.Errorf("unable to provision working directory: %w", err)
	}

	wf.folder = sub
	return wf, nil
}

// cleanupFolders removes the folders this operation created, newest first.
// Best effort; the working directory is reusable state, not a leak.
func (r *Reconciler) cleanupFolders(ctx context.Context, wf *workingFolder) {
	for i := len(wf.createdIDs) - 1; i >= 0; i-- {
		if err := r.drive.DeleteFile(ctx, wf.createdIDs[i]); err != nil {
			r.logf("cleanup of working folder %s failed: %v", wf.createdIDs[i], err)
		}
	}
}

// deleteWorkingFolder tears down the session's working folder. Not-found and
// not-mutable responses are expected states (someone else's session may
// share the folder, or it is already gone) and are swallowed; anything else
// propagates.
func (r *Reconciler) deleteWorkingFolder(ctx context.Context, folderID string) error {
	if folderID == "" {
		return nil
	}
	err := r.drive.DeleteFile(ctx, folderID)
	if err == nil || errors.Is(err, drive.ErrNotFound) || errors.Is(err, drive.ErrNotMutable) {
		if err != nil {
			r.logf("working folder %s already unavailable: %v", folderID, err)
		}
		return nil
	}
	return err
}

// pathSite returns the containing site's short name, empty outside sites.
func (r *Reconciler) pathSite(ctx context.Context, ref model.NodeRef) string {
	pc, err := r.store.PathContext(ctx, ref)
	if err != nil {
		return ""
	}
	return pc.Site
}
