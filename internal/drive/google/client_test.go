package google

import (
	"context"
	"net/http"
	"testing"

	gdrive "google.golang.org/api/drive/v3"

	"github.com/contentworks/drivebridge/internal/model"
)

func TestNewClientCarriesPolicy(t *testing.T) {
	c, err := NewClient(context.Background(), &http.Client{})
	if err != nil {
		t.Fatal(err)
	}
	if c.policy == nil {
		t.Fatal("client built without a format policy")
	}
	if _, ok := c.policy.ImportKind("application/vnd.openxmlformats-officedocument.wordprocessingml.document"); !ok {
		t.Error("policy does not recognize the document mimetype")
	}
}

func TestSnapshotPermission(t *testing.T) {
	const me = "service-account@example.com"

	tests := []struct {
		name string
		perm *gdrive.Permission
		want model.GooglePermission
		keep bool
	}{
		{
			name: "own owner entry skipped",
			perm: &gdrive.Permission{Type: "user", Role: "owner", EmailAddress: me},
			keep: false,
		},
		{
			name: "own owner entry skipped case insensitively",
			perm: &gdrive.Permission{Type: "user", Role: "owner", EmailAddress: "Service-Account@Example.com"},
			keep: false,
		},
		{
			name: "foreign owner survives",
			perm: &gdrive.Permission{Type: "user", Role: "owner", EmailAddress: "bob@example.com"},
			want: model.GooglePermission{AuthorityType: model.AuthorityUser, AuthorityID: "bob@example.com", Role: model.RoleOwner},
			keep: true,
		},
		{
			name: "reader recorded as commenter",
			perm: &gdrive.Permission{Type: "user", Role: "reader", EmailAddress: "carol@example.com"},
			want: model.GooglePermission{AuthorityType: model.AuthorityUser, AuthorityID: "carol@example.com", Role: model.RoleCommenter},
			keep: true,
		},
		{
			name: "writer kept as is",
			perm: &gdrive.Permission{Type: "user", Role: "writer", EmailAddress: "dave@example.com"},
			want: model.GooglePermission{AuthorityType: model.AuthorityUser, AuthorityID: "dave@example.com", Role: model.RoleWriter},
			keep: true,
		},
		{
			name: "domain reader keyed by domain",
			perm: &gdrive.Permission{Type: "domain", Role: "reader", Domain: "example.com"},
			want: model.GooglePermission{AuthorityType: model.AuthorityDomain, AuthorityID: "example.com", Role: model.RoleCommenter},
			keep: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := snapshotPermission(tt.perm, me)
			if ok != tt.keep {
				t.Fatalf("keep = %v, want %v", ok, tt.keep)
			}
			if ok && got != tt.want {
				t.Errorf("permission = %+v, want %+v", got, tt.want)
			}
		})
	}
}
