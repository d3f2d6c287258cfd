// Package kbemu is a local stand-in for the knowledge-base service. It
// keeps the same routes and node semantics so publishing runs can be
// exercised without a remote account.
package kbemu

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aistant/aistdoc/internal/kbclient"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// Version is one entry of a node's history.
type Version struct {
	Version    int       `json:"version"`
	Title      string    `json:"title"`
	IndexTitle string    `json:"indexTitle"`
	Content    string    `json:"content"`
	Excerpt    string    `json:"excerpt"`
	Updated    time.Time `json:"updated"`
}

type nodeRecord struct {
	Node     kbclient.Node `json:"node"`
	Versions []Version     `json:"versions"`
}

type knowledgeBaseRecord struct {
	Team string                 `json:"team"`
	KB   kbclient.KnowledgeBase `json:"kb"`
}

type persistedState struct {
	IDCounter      uint64                          `json:"idCounter"`
	Mutations      uint64                          `json:"mutations"`
	KnowledgeBases map[string]*knowledgeBaseRecord `json:"knowledgeBases"`
	Nodes          map[string]*nodeRecord          `json:"nodes"`
}

type Stats struct {
	KnowledgeBases int    `json:"knowledgeBases"`
	Nodes          int    `json:"nodes"`
	Published      int    `json:"published"`
	Mutations      uint64 `json:"mutations"`
}

type StoreOptions struct {
	Backend StateBackend
	Now     func() time.Time
	Logger  *zap.Logger
}

// Store holds knowledge bases and their nodes. It is safe for concurrent
// use; every mutation is counted and saved to the backend.
type Store struct {
	mu        sync.Mutex
	backend   StateBackend
	now       func() time.Time
	logger    *zap.Logger
	idCounter uint64
	mutations uint64
	kbs       map[string]*knowledgeBaseRecord
	nodes     map[string]*nodeRecord
	byURI     map[string]map[string]string
	closeOnce sync.Once
}

func NewStore(opts StoreOptions) (*Store, error) {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := opts.Backend
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	s := &Store{
		backend: backend,
		now:     now,
		logger:  logger,
		kbs:     map[string]*knowledgeBaseRecord{},
		nodes:   map[string]*nodeRecord{},
		byURI:   map[string]map[string]string{},
	}
	snapshot, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load emulator state: %w", err)
	}
	if snapshot != nil {
		s.restore(snapshot)
	}
	return s, nil
}

func (s *Store) restore(snapshot *persistedState) {
	s.idCounter = snapshot.IDCounter
	s.mutations = snapshot.Mutations
	if snapshot.KnowledgeBases != nil {
		s.kbs = snapshot.KnowledgeBases
	}
	if snapshot.Nodes != nil {
		s.nodes = snapshot.Nodes
	}
	for id, record := range s.nodes {
		s.indexURI(record.Node.KbID, record.Node.URI, id)
	}
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if closer, ok := s.backend.(stateBackendCloser); ok {
			err = closer.Close()
		}
	})
	return err
}

// EnsureKnowledgeBase returns the knowledge base with moniker, creating it
// for team when absent.
func (s *Store) EnsureKnowledgeBase(team, moniker, title string) (kbclient.KnowledgeBase, error) {
	team = strings.TrimSpace(team)
	moniker = strings.TrimSpace(moniker)
	if moniker == "" {
		return kbclient.KnowledgeBase{}, fmt.Errorf("%w: moniker is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.kbs[moniker]; ok {
		return record.KB, nil
	}
	if title == "" {
		title = moniker
	}
	kb := kbclient.KnowledgeBase{ID: s.nextID("kb"), Moniker: moniker, Title: title, Lang: "en"}
	s.kbs[moniker] = &knowledgeBaseRecord{Team: team, KB: kb}
	s.logger.Info("knowledge base created", zap.String("team", team), zap.String("kb", moniker), zap.String("id", kb.ID))
	return kb, s.saveLocked()
}

// KnowledgeBase finds a knowledge base by team and moniker. An empty team
// matches any.
func (s *Store) KnowledgeBase(team, moniker string) (kbclient.KnowledgeBase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.kbs[strings.TrimSpace(moniker)]
	if !ok {
		return kbclient.KnowledgeBase{}, false
	}
	if team != "" && record.Team != "" && !strings.EqualFold(team, record.Team) {
		return kbclient.KnowledgeBase{}, false
	}
	return record.KB, true
}

// Tree lists every node of a knowledge base nested under its parent and
// ordered by indexNum.
func (s *Store) Tree(moniker string) ([]kbclient.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.kbs[strings.TrimSpace(moniker)]
	if !ok {
		return nil, fmt.Errorf("%w: knowledge base %s", ErrNotFound, moniker)
	}
	children := map[string][]*nodeRecord{}
	for _, node := range s.nodes {
		if node.Node.KbID != record.KB.ID {
			continue
		}
		children[node.Node.ParentID] = append(children[node.Node.ParentID], node)
	}
	var build func(parentID string) []kbclient.Document
	build = func(parentID string) []kbclient.Document {
		items := children[parentID]
		sort.Slice(items, func(i, j int) bool {
			if items[i].Node.IndexNum != items[j].Node.IndexNum {
				return items[i].Node.IndexNum < items[j].Node.IndexNum
			}
			return items[i].Node.URI < items[j].Node.URI
		})
		docs := make([]kbclient.Document, 0, len(items))
		for _, item := range items {
			doc := kbclient.Document{
				ID:       item.Node.ID,
				Title:    item.Node.Title,
				IndexNum: item.Node.IndexNum,
				URI:      item.Node.URI,
				FullPath: item.Node.URI,
				Kind:     item.Node.Kind,
				Tags:     item.Node.Tags,
			}
			if item.Node.Kind == kbclient.KindSection {
				doc.Items = build(item.Node.ID)
			}
			docs = append(docs, doc)
		}
		return docs
	}
	return build(""), nil
}

func (s *Store) NodeByURI(kbID, uri string) (kbclient.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byURI[kbID][strings.Trim(uri, "/")]
	if !ok {
		return kbclient.Node{}, false
	}
	return s.nodes[id].Node, true
}

func (s *Store) NodeByID(id string) (kbclient.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nodes[id]
	if !ok {
		return kbclient.Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return record.Node, nil
}

// Versions returns the history of a node, oldest first.
func (s *Store) Versions(id string) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return append([]Version(nil), record.Versions...), nil
}

// Create stores a new draft node at version 0. The uri must be unused in
// the knowledge base and the parent, when set, must be a section of the
// same knowledge base.
func (s *Store) Create(node kbclient.Node) (kbclient.Node, error) {
	node.URI = strings.Trim(strings.TrimSpace(node.URI), "/")
	if node.URI == "" {
		return kbclient.Node{}, fmt.Errorf("%w: uri is required", ErrInvalidInput)
	}
	if node.Kind != kbclient.KindArticle && node.Kind != kbclient.KindSection {
		return kbclient.Node{}, fmt.Errorf("%w: unsupported kind %d", ErrInvalidInput, node.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasKnowledgeBaseID(node.KbID) {
		return kbclient.Node{}, fmt.Errorf("%w: unknown knowledge base %q", ErrInvalidInput, node.KbID)
	}
	if _, exists := s.byURI[node.KbID][node.URI]; exists {
		return kbclient.Node{}, fmt.Errorf("%w: uri %s already exists", ErrConflict, node.URI)
	}
	if node.ParentID != "" {
		parent, ok := s.nodes[node.ParentID]
		if !ok || parent.Node.KbID != node.KbID {
			return kbclient.Node{}, fmt.Errorf("%w: unknown parent %q", ErrInvalidInput, node.ParentID)
		}
		if parent.Node.Kind != kbclient.KindSection {
			return kbclient.Node{}, fmt.Errorf("%w: parent %s is not a section", ErrInvalidInput, parent.Node.URI)
		}
	}

	now := s.now()
	node.ID = s.nextID("node")
	if node.IndexTitle == "" {
		node.IndexTitle = node.Title
	}
	node.State = kbclient.StateDraft
	node.LastVersion = 0
	node.PubVersion = 0
	node.DateCreated = now
	node.DateUpdated = now
	node.DatePublished = time.Time{}
	s.nodes[node.ID] = &nodeRecord{Node: node, Versions: []Version{versionOf(node, now)}}
	s.indexURI(node.KbID, node.URI, node.ID)
	s.mutations++
	s.logger.Debug("node created", zap.String("uri", node.URI), zap.String("id", node.ID), zap.Int("indexNum", node.IndexNum))
	return node, s.saveLocked()
}

// Revise applies payload to node id. A payload announcing a lastVersion
// above the stored one appends a new draft version; otherwise the latest
// version is overwritten in place.
func (s *Store) Revise(id string, payload kbclient.Node) (kbclient.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nodes[id]
	if !ok {
		return kbclient.Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	node := &record.Node
	node.Content = payload.Content
	node.Excerpt = payload.Excerpt
	if payload.Title != "" {
		node.Title = payload.Title
	}
	if payload.IndexTitle != "" {
		node.IndexTitle = payload.IndexTitle
	}
	now := s.now()
	node.DateUpdated = now
	switch {
	case payload.LastVersion > node.LastVersion:
		node.LastVersion++
		node.State = kbclient.StateDraft
		record.Versions = append(record.Versions, versionOf(*node, now))
	case len(record.Versions) == 0:
		record.Versions = []Version{versionOf(*node, now)}
	default:
		record.Versions[len(record.Versions)-1] = versionOf(*node, now)
	}
	s.mutations++
	return *node, s.saveLocked()
}

// Publish marks the latest version as published.
func (s *Store) Publish(id string) (kbclient.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.nodes[id]
	if !ok {
		return kbclient.Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	node := &record.Node
	node.State = kbclient.StatePublished
	node.PubVersion = node.LastVersion
	node.DatePublished = s.now()
	s.mutations++
	return *node, s.saveLocked()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{KnowledgeBases: len(s.kbs), Nodes: len(s.nodes), Mutations: s.mutations}
	for _, record := range s.nodes {
		if record.Node.State == kbclient.StatePublished {
			stats.Published++
		}
	}
	return stats
}

func (s *Store) hasKnowledgeBaseID(id string) bool {
	for _, record := range s.kbs {
		if record.KB.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) indexURI(kbID, uri, id string) {
	if s.byURI[kbID] == nil {
		s.byURI[kbID] = map[string]string{}
	}
	s.byURI[kbID][uri] = id
}

func (s *Store) nextID(prefix string) string {
	s.idCounter++
	return fmt.Sprintf("%s_%06d", prefix, s.idCounter)
}

func (s *Store) saveLocked() error {
	snapshot := persistedState{
		IDCounter:      s.idCounter,
		Mutations:      s.mutations,
		KnowledgeBases: s.kbs,
		Nodes:          s.nodes,
	}
	if err := s.backend.Save(&snapshot); err != nil {
		s.logger.Error("saving emulator state", zap.Error(err))
		return fmt.Errorf("save emulator state: %w", err)
	}
	return nil
}

func versionOf(node kbclient.Node, at time.Time) Version {
	return Version{
		Version:    node.LastVersion,
		Title:      node.Title,
		IndexTitle: node.IndexTitle,
		Content:    node.Content,
		Excerpt:    node.Excerpt,
		Updated:    at,
	}
}
