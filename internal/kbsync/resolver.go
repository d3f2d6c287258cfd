package kbsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/aistant/aistdoc/internal/kbclient"
)

// ResolveSection returns the section at sectionURI, creating any missing
// ancestors. The path is relative to the root section when one is
// configured, else to parentURI. Only the last segment is given
// sectionTitle; intermediate sections are titled by their segment and their
// titles are never revised. Each section is synchronized at most once per
// run.
//
// An empty sectionURI resolves to the root section, or nil for the top
// level, without a remote call.
func (s *Session) ResolveSection(ctx context.Context, parentURI, sectionURI, sectionTitle string) (*Node, error) {
	segments := splitURI(sectionURI)
	if len(segments) == 0 {
		return s.root, nil
	}

	base := s.root
	if base == nil && strings.Trim(parentURI, "/") != "" {
		resolved, err := s.ResolveSection(ctx, "", parentURI, "")
		if err != nil {
			return nil, err
		}
		base = resolved
	}
	basePath := ""
	if base != nil {
		basePath = base.URI
	}

	current := base
	for i := range segments {
		uri := CombineURI(basePath, strings.Join(segments[:i+1], "/"))
		if cached, ok := s.resolved[uri]; ok {
			current = cached
			continue
		}
		title := segments[i]
		checkTitle := false
		if i == len(segments)-1 && strings.TrimSpace(sectionTitle) != "" {
			title = strings.TrimSpace(sectionTitle)
			checkTitle = true
		}
		node, err := s.syncSection(ctx, current, uri, title, checkTitle)
		if err != nil {
			return nil, fmt.Errorf("resolve section %q: %w", uri, err)
		}
		s.resolved[uri] = node
		current = node
	}
	return current, nil
}

// syncSection looks up, creates or retitles one section and publishes it
// when configured.
func (s *Session) syncSection(ctx context.Context, parent *Node, uri, title string, checkTitle bool) (*Node, error) {
	if parent != nil && parent.Kind == kbclient.KindArticle {
		return nil, &InvalidActionError{Op: "create section", URI: uri, Reason: "parent " + parent.URI + " is an article"}
	}
	existing, found, err := s.client.GetNodeByURI(ctx, s.kb.ID, uri)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	var node *Node
	if !found {
		node, err = s.create(ctx, parent, Node{
			URI:        uri,
			Title:      title,
			IndexTitle: title,
			Kind:       kbclient.KindSection,
		})
		if err != nil {
			return nil, err
		}
	} else {
		if existing.Kind == kbclient.KindArticle {
			return nil, &InvalidActionError{Op: "resolve section", URI: uri, Reason: "uri belongs to an article"}
		}
		// Tree projections and uri lookups may omit fields; compare titles
		// against the full node.
		full, err := s.client.GetNodeByID(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch section %s: %w", existing.ID, err)
		}
		s.ordering.AddParent(uri)
		s.ordering.RegisterIfAbsent(parentKey(parent), uri, full.IndexNum)

		if checkTitle && (full.Title != title || full.IndexTitle != title) {
			full.Title = title
			full.IndexTitle = title
			node, err = s.revise(ctx, full)
			if err != nil {
				return nil, err
			}
		} else {
			node = &full
			s.logger.Info("section already exists with this content", nodeFields(node)...)
		}
	}

	if s.opts.PublishOnWrite {
		return s.EnsurePublished(ctx, node)
	}
	return node, nil
}
