// Package publish is the caller-facing side of the engine: a request per
// node, a Publisher that applies it, and a batch driver.
package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/aistant/aistdoc/internal/kbsync"
	"go.uber.org/zap"
)

// Request asks for one article or section to exist with the given body.
// An empty SectionURI places the node at the top level, under the root
// section when one is configured.
type Request struct {
	SectionURI   string `json:"sectionUri,omitempty"`
	SectionTitle string `json:"sectionTitle,omitempty"`
	ArticleURI   string `json:"articleUri"`
	ArticleTitle string `json:"articleTitle"`
	Body         string `json:"body,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
	IsSection    bool   `json:"isSection,omitempty"`
}

func (r Request) Kind() kbclient.Kind {
	if r.IsSection {
		return kbclient.KindSection
	}
	return kbclient.KindArticle
}

type Result struct {
	URI    string
	ID     string
	Kind   kbclient.Kind
	Action kbsync.Action
	State  kbclient.State
}

type Publisher interface {
	PublishNode(ctx context.Context, req Request) (Result, error)
}

// KnowledgeBasePublisher applies requests to a remote knowledge base
// through a bootstrapped session.
type KnowledgeBasePublisher struct {
	session *kbsync.Session
}

var _ Publisher = (*KnowledgeBasePublisher)(nil)

func NewKnowledgeBasePublisher(session *kbsync.Session) *KnowledgeBasePublisher {
	return &KnowledgeBasePublisher{session: session}
}

func (p *KnowledgeBasePublisher) PublishNode(ctx context.Context, req Request) (Result, error) {
	if strings.Trim(req.ArticleURI, "/") == "" {
		return Result{}, &kbsync.InvalidActionError{Op: "publish", Reason: "article uri is required"}
	}
	section, err := p.session.ResolveSection(ctx, "", req.SectionURI, req.SectionTitle)
	if err != nil {
		return Result{}, err
	}
	node, action, err := p.session.Upsert(ctx, section, kbsync.NodeSpec{
		URI:     req.ArticleURI,
		Title:   req.ArticleTitle,
		Content: req.Body,
		Excerpt: req.Excerpt,
		Kind:    req.Kind(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{URI: node.URI, ID: node.ID, Kind: node.Kind, Action: action, State: node.State}, nil
}

// Summary counts what a batch did.
type Summary struct {
	Created   int
	Revised   int
	Unchanged int
	Elapsed   time.Duration
}

// Changed is the number of nodes added or updated.
func (s Summary) Changed() int {
	return s.Created + s.Revised
}

func (s Summary) Total() int {
	return s.Created + s.Revised + s.Unchanged
}

// Run applies requests in order and stops at the first failure. Requests
// before the failure stay applied.
func Run(ctx context.Context, pub Publisher, requests []Request, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()
	var summary Summary
	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(started)
			return summary, err
		}
		result, err := pub.PublishNode(ctx, req)
		if err != nil {
			summary.Elapsed = time.Since(started)
			return summary, fmt.Errorf("request %d (%s): %w", i+1, kbsync.CombineURI(req.SectionURI, req.ArticleURI), err)
		}
		switch result.Action {
		case kbsync.ActionCreated:
			summary.Created++
		case kbsync.ActionRevised:
			summary.Revised++
		default:
			summary.Unchanged++
		}
		logger.Debug("request applied",
			zap.String("uri", result.URI),
			zap.String("action", string(result.Action)),
			zap.String("state", result.State.String()))
	}
	summary.Elapsed = time.Since(started)
	return summary, nil
}
