// Package memory implements repo.Store with an in-process map, optionally
// persisted to DynamoDB so the standalone deployment survives restarts. With
// a nil DynamoDB client everything stays in memory, which is what the tests
// use.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/contentworks/drivebridge/internal/model"
	"github.com/contentworks/drivebridge/internal/repo"
)

func getTableName() *string {
	name := os.Getenv("NODE_STORE_TABLE")
	if name == "" {
		name = "NodeStore"
	}
	return aws.String(name)
}

// record is the full state of one node.
type record struct {
	node       repo.Node
	content    []byte
	props      map[string]string
	boolProps  map[string]bool
	multiProps map[string][]string
	aspects    map[string]struct{}
	lockOwner  string
	versions   []versionEntry
	pathCtx    repo.PathContext
}

type versionEntry struct {
	Type        model.VersionType `dynamodbav:"type"`
	Description string            `dynamodbav:"description"`
	CreatedAt   time.Time         `dynamodbav:"created_at"`
}

// nodeItem is the DynamoDB shape of a record.
type nodeItem struct {
	PK         string              `dynamodbav:"pk"`
	Parent     string              `dynamodbav:"parent"`
	Name       string              `dynamodbav:"name"`
	Mimetype   string              `dynamodbav:"mimetype"`
	Content    []byte              `dynamodbav:"content"`
	Props      map[string]string   `dynamodbav:"props"`
	BoolProps  map[string]bool     `dynamodbav:"bool_props"`
	MultiProps map[string][]string `dynamodbav:"multi_props"`
	Aspects    []string            `dynamodbav:"aspects"`
	LockOwner  string              `dynamodbav:"lock_owner"`
	Versions   []versionEntry      `dynamodbav:"versions"`
	Site       string              `dynamodbav:"site"`
	Shared     bool                `dynamodbav:"shared"`
	UpdatedAt  time.Time           `dynamodbav:"updated_at"`
}

// Store implements repo.Store.
// If client is nil, it uses an in-memory map (for tests).
// If client is set, mutations are written through to DynamoDB.
type Store struct {
	client *dynamodb.Client

	mu    sync.RWMutex
	nodes map[model.NodeRef]*record
	// sites maps site short name to user to role.
	sites map[string]map[string]string
	// suspended counts nested event-suspension scopes per node.
	suspended map[model.NodeRef]int
}

// NewStore builds a Store; client may be nil.
func NewStore(client *dynamodb.Client) *Store {
	return &Store{
		client:    client,
		nodes:     make(map[model.NodeRef]*record),
		sites:     make(map[string]map[string]string),
		suspended: make(map[model.NodeRef]int),
	}
}

func newRef() model.NodeRef {
	return model.NodeRef("workspace://SpacesStore/" + uuid.New().String())
}

// CreateRoot makes a parentless folder node carrying the given path context.
// Children created below it inherit the context.
func (s *Store) CreateRoot(ctx context.Context, name string, pc repo.PathContext) (*repo.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &record{
		node:       repo.Node{Ref: newRef(), Name: name},
		props:      map[string]string{},
		boolProps:  map[string]bool{},
		multiProps: map[string][]string{},
		aspects:    map[string]struct{}{},
		pathCtx:    pc,
	}
	s.nodes[rec.node.Ref] = rec
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	n := rec.node
	return &n, nil
}

// SetSiteRole assigns user a role in site, for membership checks.
func (s *Store) SetSiteRole(site, user, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sites[site] == nil {
		s.sites[site] = make(map[string]string)
	}
	s.sites[site][user] = role
}

func (s *Store) GetNode(ctx context.Context, ref model.NodeRef) (*repo.Node, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := rec.node
	return &n, nil
}

func (s *Store) CreateNode(ctx context.Context, parent model.NodeRef, name, mimetype string, content []byte) (*repo.Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parentRec, ok := s.nodes[parent]
	if !ok {
		return nil, repo.ErrNotFound
	}
	for _, rec := range s.nodes {
		if rec.node.Parent == parent && rec.node.Name == name {
			return nil, repo.ErrNameExists
		}
	}

	rec := &record{
		node:       repo.Node{Ref: newRef(), Parent: parent, Name: name, Mimetype: mimetype},
		content:    append([]byte(nil), content...),
		props:      map[string]string{},
		boolProps:  map[string]bool{},
		multiProps: map[string][]string{},
		aspects:    map[string]struct{}{},
		pathCtx:    parentRec.pathCtx,
	}
	s.nodes[rec.node.Ref] = rec
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	n := rec.node
	return &n, nil
}

func (s *Store) DeleteNode(ctx context.Context, ref model.NodeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[ref]; !ok {
		return repo.ErrNotFound
	}
	delete(s.nodes, ref)

	if s.client == nil {
		return nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: getTableName(),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: ref.String()},
		},
	})
	return err
}

func (s *Store) Rename(ctx context.Context, ref model.NodeRef, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	if rec.node.Name == name {
		return nil
	}
	for _, other := range s.nodes {
		if other.node.Parent == rec.node.Parent && other.node.Ref != ref && other.node.Name == name {
			return repo.ErrNameExists
		}
	}
	rec.node.Name = name
	return s.persist(ctx, rec)
}

func (s *Store) ChildByName(ctx context.Context, parent model.NodeRef, name string) (*repo.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.nodes {
		if rec.node.Parent == parent && rec.node.Name == name {
			n := rec.node
			return &n, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *Store) ReadContent(ctx context.Context, ref model.NodeRef) (io.ReadCloser, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(append([]byte(nil), rec.content...))), nil
}

func (s *Store) WriteContent(ctx context.Context, ref model.NodeRef, mimetype string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("unable to read content stream: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	rec.content = content
	rec.node.Mimetype = mimetype
	return s.persist(ctx, rec)
}

func (s *Store) Property(ctx context.Context, ref model.NodeRef, name string) (string, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.props[name], nil
}

func (s *Store) BoolProperty(ctx context.Context, ref model.NodeRef, name string) (bool, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.boolProps[name], nil
}

func (s *Store) MultiProperty(ctx context.Context, ref model.NodeRef, name string) ([]string, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals, ok := rec.multiProps[name]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), vals...), nil
}

func (s *Store) SetProperties(ctx context.Context, ref model.NodeRef, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	for name, v := range props {
		switch val := v.(type) {
		case string:
			rec.props[name] = val
		case bool:
			rec.boolProps[name] = val
		case []string:
			rec.multiProps[name] = append([]string(nil), val...)
		default:
			return fmt.Errorf("unsupported property type %T for %s", v, name)
		}
	}
	return s.persist(ctx, rec)
}

func (s *Store) RemoveProperties(ctx context.Context, ref model.NodeRef, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	for _, name := range names {
		delete(rec.props, name)
		delete(rec.boolProps, name)
		delete(rec.multiProps, name)
	}
	return s.persist(ctx, rec)
}

func (s *Store) AddAspect(ctx context.Context, ref model.NodeRef, aspect string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	rec.aspects[aspect] = struct{}{}
	return s.persist(ctx, rec)
}

func (s *Store) RemoveAspect(ctx context.Context, ref model.NodeRef, aspect string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	delete(rec.aspects, aspect)
	for _, name := range aspectProperties(aspect) {
		delete(rec.props, name)
		delete(rec.boolProps, name)
		delete(rec.multiProps, name)
	}
	return s.persist(ctx, rec)
}

func (s *Store) HasAspect(ctx context.Context, ref model.NodeRef, aspect string) (bool, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := rec.aspects[aspect]
	return ok, nil
}

func (s *Store) Lock(ctx context.Context, ref model.NodeRef, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	rec.lockOwner = user
	return s.persist(ctx, rec)
}

func (s *Store) Unlock(ctx context.Context, ref model.NodeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	rec.lockOwner = ""
	return s.persist(ctx, rec)
}

func (s *Store) LockOwner(ctx context.Context, ref model.NodeRef) (string, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.lockOwner, nil
}

func (s *Store) CreateVersion(ctx context.Context, ref model.NodeRef, vt model.VersionType, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return repo.ErrNotFound
	}
	rec.aspects[repo.AspectVersionable] = struct{}{}
	rec.versions = append(rec.versions, versionEntry{
		Type:        vt,
		Description: description,
		CreatedAt:   time.Now(),
	})
	return s.persist(ctx, rec)
}

// Versions returns the node's version history, oldest first. Test helper.
func (s *Store) Versions(ref model.NodeRef) []model.VersionType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return nil
	}
	out := make([]model.VersionType, 0, len(rec.versions))
	for _, v := range rec.versions {
		out = append(out, v.Type)
	}
	return out
}

func (s *Store) PathContext(ctx context.Context, ref model.NodeRef) (repo.PathContext, error) {
	rec, err := s.get(ctx, ref)
	if err != nil {
		return repo.PathContext{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.pathCtx, nil
}

func (s *Store) IsSiteManager(ctx context.Context, site, user string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sites[site][user] == "SiteManager", nil
}

// SuspendEvents opens an event-suspension scope for ref. This store emits no
// behaviour events, so the scope only maintains the nesting count; a
// repository-backed implementation would disable its policies here. Resume
// is safe to call once per scope from any goroutine.
func (s *Store) SuspendEvents(ctx context.Context, ref model.NodeRef) (func(), error) {
	if _, err := s.get(ctx, ref); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.suspended[ref]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.suspended[ref] <= 1 {
				delete(s.suspended, ref)
				return
			}
			s.suspended[ref]--
		})
	}, nil
}

// EventsSuspended reports whether ref sits inside an open suspension scope.
func (s *Store) EventsSuspended(ref model.NodeRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended[ref] > 0
}

// get returns the live record, falling back to DynamoDB on a miss when a
// client is configured.
func (s *Store) get(ctx context.Context, ref model.NodeRef) (*record, error) {
	s.mu.RLock()
	rec, ok := s.nodes[ref]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}
	if s.client == nil {
		return nil, repo.ErrNotFound
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: getTableName(),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: ref.String()},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, repo.ErrNotFound
	}

	var item nodeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	rec = fromItem(&item)

	s.mu.Lock()
	s.nodes[ref] = rec
	s.mu.Unlock()
	return rec, nil
}

// persist writes the record through to DynamoDB. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, rec *record) error {
	if s.client == nil {
		return nil
	}
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: getTableName(),
		Item:      item,
	})
	return err
}

func toItem(rec *record) *nodeItem {
	aspects := make([]string, 0, len(rec.aspects))
	for a := range rec.aspects {
		aspects = append(aspects, a)
	}
	return &nodeItem{
		PK:         rec.node.Ref.String(),
		Parent:     rec.node.Parent.String(),
		Name:       rec.node.Name,
		Mimetype:   rec.node.Mimetype,
		Content:    rec.content,
		Props:      rec.props,
		BoolProps:  rec.boolProps,
		MultiProps: rec.multiProps,
		Aspects:    aspects,
		LockOwner:  rec.lockOwner,
		Versions:   rec.versions,
		Site:       rec.pathCtx.Site,
		Shared:     rec.pathCtx.Shared,
		UpdatedAt:  time.Now(),
	}
}

func fromItem(item *nodeItem) *record {
	rec := &record{
		node: repo.Node{
			Ref:      model.NodeRef(item.PK),
			Parent:   model.NodeRef(item.Parent),
			Name:     item.Name,
			Mimetype: item.Mimetype,
		},
		content:    item.Content,
		props:      item.Props,
		boolProps:  item.BoolProps,
		multiProps: item.MultiProps,
		aspects:    make(map[string]struct{}, len(item.Aspects)),
		lockOwner:  item.LockOwner,
		versions:   item.Versions,
		pathCtx:    repo.PathContext{Site: item.Site, Shared: item.Shared},
	}
	for _, a := range item.Aspects {
		rec.aspects[a] = struct{}{}
	}
	if rec.props == nil {
		rec.props = map[string]string{}
	}
	if rec.boolProps == nil {
		rec.boolProps = map[string]bool{}
	}
	if rec.multiProps == nil {
		rec.multiProps = map[string][]string{}
	}
	return rec
}

// aspectProperties lists the properties removed with an aspect.
func aspectProperties(aspect string) []string {
	switch aspect {
	case repo.AspectEditingInGoogle:
		return []string{
			repo.PropResourceID, repo.PropWorkingFolderID, repo.PropEditorURL,
			repo.PropRevisionID, repo.PropLocked, repo.PropNativeEditor,
		}
	case repo.AspectSharedInGoogle:
		return []string{repo.PropPermissions, repo.PropCurrentPermissions}
	}
	return nil
}

func validateName(name string) error {
	if name == "" || len(name) > 255 {
		return repo.ErrNameConstraint
	}
	if strings.ContainsAny(name, `"*\><?/:|`) {
		return repo.ErrNameConstraint
	}
	if strings.HasSuffix(name, ".") || strings.TrimSpace(name) != name {
		return repo.ErrNameConstraint
	}
	return nil
}
