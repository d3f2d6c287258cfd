package kbsync

import (
	"context"
	"fmt"

	"github.com/aistant/aistdoc/internal/kbclient"
)

// EnsurePublished moves a draft node to published. A node that is already
// published at its last version is returned as is without a remote call; a
// published node whose pubVersion lags lastVersion is published again.
func (s *Session) EnsurePublished(ctx context.Context, node *Node) (*Node, error) {
	if node == nil || node.ID == "" {
		return nil, &InvalidActionError{Op: "publish", Reason: "node has no id"}
	}
	if node.State == kbclient.StatePublished && node.PubVersion >= node.LastVersion {
		s.logger.Info("node already published", nodeFields(node)...)
		return node, nil
	}
	published, err := s.client.PublishNode(ctx, *node)
	if err != nil {
		return nil, fmt.Errorf("publish %s %q: %w", node.Kind, node.URI, err)
	}
	s.logger.Info("published "+node.Kind.String(), nodeFields(&published)...)
	return &published, nil
}
