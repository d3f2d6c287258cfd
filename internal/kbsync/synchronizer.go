package kbsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/aistant/aistdoc/internal/kbclient"
	"go.uber.org/zap"
)

// Action is what Upsert did to the remote store.
type Action string

const (
	ActionCreated   Action = "created"
	ActionRevised   Action = "revised"
	ActionUnchanged Action = "unchanged"
)

// NodeSpec is the requested state of a leaf. URI is relative to the parent
// passed to Upsert.
type NodeSpec struct {
	URI     string
	Title   string
	Content string
	Excerpt string
	Kind    kbclient.Kind
}

// Upsert creates the node described by spec under parent, revises it when
// its content differs, or leaves it alone. A nil parent means the top
// level. With PublishOnWrite the node is published last, including when it
// was unchanged.
func (s *Session) Upsert(ctx context.Context, parent *Node, spec NodeSpec) (*Node, Action, error) {
	relative := strings.Trim(spec.URI, "/")
	if relative == "" {
		return nil, "", &InvalidActionError{Op: "upsert", Reason: "uri is required"}
	}
	if spec.Kind != kbclient.KindArticle && spec.Kind != kbclient.KindSection {
		return nil, "", &InvalidActionError{Op: "upsert", URI: relative, Reason: "kind must be article or section, got " + spec.Kind.String()}
	}
	if parent != nil && parent.Kind == kbclient.KindArticle {
		return nil, "", &InvalidActionError{Op: "upsert", URI: relative, Reason: "parent " + parent.URI + " is an article"}
	}
	uri := CombineURI(parentKey(parent), relative)

	existing, found, err := s.client.GetNodeByURI(ctx, s.kb.ID, uri)
	if err != nil {
		return nil, "", fmt.Errorf("lookup %q: %w", uri, err)
	}

	var node *Node
	var action Action
	if !found {
		node, err = s.create(ctx, parent, Node{
			URI:        uri,
			Title:      spec.Title,
			IndexTitle: spec.Title,
			Content:    spec.Content,
			Excerpt:    spec.Excerpt,
			Kind:       spec.Kind,
		})
		if err != nil {
			return nil, "", err
		}
		action = ActionCreated
	} else {
		if existing.Kind != spec.Kind {
			return nil, "", &InvalidActionError{Op: "upsert", URI: uri, Reason: "uri belongs to " + existing.Kind.String() + ", not " + spec.Kind.String()}
		}
		s.ordering.RegisterIfAbsent(parentKey(parent), uri, existing.IndexNum)
		if existing.Kind == kbclient.KindSection {
			s.ordering.AddParent(uri)
		}
		if contentEqual(existing, spec) {
			node = &existing
			action = ActionUnchanged
			s.logger.Info("node already exists with this content", nodeFields(node)...)
		} else {
			existing.Content = spec.Content
			if spec.Kind == kbclient.KindArticle {
				existing.Excerpt = spec.Excerpt
			}
			if spec.Title != "" {
				existing.Title = spec.Title
				existing.IndexTitle = spec.Title
			}
			node, err = s.revise(ctx, existing)
			if err != nil {
				return nil, "", err
			}
			action = ActionRevised
		}
	}

	if s.opts.PublishOnWrite {
		node, err = s.EnsurePublished(ctx, node)
		if err != nil {
			return nil, "", err
		}
	}
	return node, action, nil
}

// contentEqual is the idempotence test: content always, excerpt for
// articles only.
func contentEqual(existing Node, spec NodeSpec) bool {
	if existing.Content != spec.Content {
		return false
	}
	if spec.Kind == kbclient.KindArticle && existing.Excerpt != spec.Excerpt {
		return false
	}
	return true
}

// create allocates the ordering key, creates the node remotely and, for
// sections, registers it as an empty parent.
func (s *Session) create(ctx context.Context, parent *Node, node Node) (*Node, error) {
	node.KbID = s.kb.ID
	node.FormatType = kbclient.FormatMarkdown
	if parent != nil {
		node.ParentID = parent.ID
	}
	node.IndexNum = s.ordering.Allocate(parentKey(parent), node.URI)
	if node.Kind == kbclient.KindSection {
		s.ordering.AddParent(node.URI)
	}

	created, err := s.client.CreateNode(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", node.Kind, node.URI, err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create %s %q: remote returned no id", node.Kind, node.URI)
	}
	s.logger.Info("created "+node.Kind.String(), nodeFields(&created)...)
	return &created, nil
}

// revise commits a content or title change using the configured version
// policy.
func (s *Session) revise(ctx context.Context, node Node) (*Node, error) {
	var (
		revised Node
		err     error
	)
	if s.opts.VersionOnChange {
		revised, err = s.client.CreateVersion(ctx, node)
	} else {
		revised, err = s.client.UpdateLastVersion(ctx, node)
	}
	if err != nil {
		return nil, fmt.Errorf("revise %s %q: %w", node.Kind, node.URI, err)
	}
	s.logger.Info("revised "+node.Kind.String(), append(nodeFields(&revised), zap.Bool("newVersion", s.opts.VersionOnChange))...)
	return &revised, nil
}
