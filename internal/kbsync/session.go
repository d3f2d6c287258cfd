package kbsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/aistant/aistdoc/internal/kbclient"
	"go.uber.org/zap"
)

// Node is the authoritative remote representation of a section or article.
type Node = kbclient.Node

type Options struct {
	// KnowledgeBase is the moniker of the target knowledge base.
	KnowledgeBase string
	// RootSectionURI and RootSectionTitle name a section every request is
	// nested under. Both or neither must be set.
	RootSectionURI   string
	RootSectionTitle string
	// VersionOnChange appends a version on every revision. When false the
	// latest version is overwritten in place.
	VersionOnChange bool
	PublishOnWrite  bool
	Logger          *zap.Logger
}

func (o Options) validate() error {
	if strings.TrimSpace(o.KnowledgeBase) == "" {
		return fmt.Errorf("%w: knowledge base moniker is required", ErrInvalidConfig)
	}
	uri := strings.Trim(strings.TrimSpace(o.RootSectionURI), "/")
	title := strings.TrimSpace(o.RootSectionTitle)
	if uri == "" && title != "" {
		return fmt.Errorf("%w: root section title %q has no uri", ErrInvalidConfig, title)
	}
	if uri != "" && title == "" {
		return fmt.Errorf("%w: root section %q has no title", ErrInvalidConfig, uri)
	}
	return nil
}

// Session holds the state of one synchronization run: the resolved
// knowledge base, the ordering table built from the remote tree, and the
// resolved-section cache. A Session is not safe for concurrent use;
// requests must be applied one at a time.
type Session struct {
	client   kbclient.RemoteClient
	opts     Options
	logger   *zap.Logger
	kb       kbclient.KnowledgeBase
	ordering *OrderingTable
	resolved map[string]*Node
	root     *Node
}

// Bootstrap resolves the knowledge base, loads its document tree into a
// fresh ordering table and synchronizes the configured root section.
func Bootstrap(ctx context.Context, client kbclient.RemoteClient, opts Options) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: remote client is required", ErrInvalidConfig)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.KnowledgeBase = strings.TrimSpace(opts.KnowledgeBase)
	opts.RootSectionURI = strings.Trim(strings.TrimSpace(opts.RootSectionURI), "/")
	opts.RootSectionTitle = strings.TrimSpace(opts.RootSectionTitle)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kb, found, err := client.GetKnowledgeBase(ctx, opts.KnowledgeBase)
	if err != nil {
		return nil, fmt.Errorf("resolve knowledge base %q: %w", opts.KnowledgeBase, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, opts.KnowledgeBase)
	}

	docs, err := client.ListDocumentTree(ctx, kb)
	if err != nil {
		return nil, fmt.Errorf("list document tree of %q: %w", kb.Moniker, err)
	}

	s := &Session{
		client:   client,
		opts:     opts,
		logger:   logger.With(zap.String("kb", kb.Moniker)),
		kb:       kb,
		ordering: NewOrderingTable(),
		resolved: map[string]*Node{},
	}
	s.ordering.Load(docs, RootKey)
	s.logger.Debug("loaded document tree", zap.Int("topLevel", len(s.ordering.Children(RootKey))))

	if opts.RootSectionURI != "" {
		root, err := s.syncSection(ctx, nil, opts.RootSectionURI, opts.RootSectionTitle, true)
		if err != nil {
			return nil, fmt.Errorf("sync root section %q: %w", opts.RootSectionURI, err)
		}
		s.root = root
		s.resolved[root.URI] = root
	}
	return s, nil
}

func (s *Session) KnowledgeBase() kbclient.KnowledgeBase {
	return s.kb
}

// Root returns the configured root section, or nil when requests land at
// the top level.
func (s *Session) Root() *Node {
	return s.root
}

func (s *Session) Ordering() *OrderingTable {
	return s.ordering
}

func parentKey(parent *Node) string {
	if parent == nil {
		return RootKey
	}
	return parent.URI
}

func nodeFields(node *Node) []zap.Field {
	return []zap.Field{
		zap.String("uri", node.URI),
		zap.String("id", node.ID),
		zap.String("kind", node.Kind.String()),
		zap.String("state", node.State.String()),
		zap.Int("version", node.LastVersion),
		zap.Int("indexNum", node.IndexNum),
	}
}
