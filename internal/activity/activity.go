// Package activity posts best-effort notifications about completed edit
// sessions to the site activity stream. Callers log failures and move on; a
// missing notification never undoes a finished reconciliation.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/contentworks/drivebridge/internal/model"
)

// Event is one activity-stream entry.
type Event struct {
	Type    string        `json:"type"`
	SiteID  string        `json:"siteId"`
	Actor   string        `json:"actor"`
	Title   string        `json:"title"`
	NodeRef model.NodeRef `json:"nodeRef"`
}

// Event types. A node's first save announces the file, later saves announce
// the edit.
const (
	TypeFileAdded  = "org.alfresco.documentlibrary.file-added"
	TypeFileEdited = "org.alfresco.documentlibrary.file-updated"
)

// NotificationError wraps a failure to build or deliver a notification. It is
// deliberately distinct from authentication and remote errors so callers
// cannot mistake it for something worth aborting over.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("activity notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Notifier delivers events.
type Notifier interface {
	Post(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the process log. It is the delivery mechanism
// for the standalone deployment, where no activity stream exists.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Post(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return &NotificationError{Err: err}
	}
	log.Printf("activity: %s", payload)
	return nil
}
