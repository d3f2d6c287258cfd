package kbsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/aistant/aistdoc/internal/kbclient"
)

type versionRecord struct {
	version int
	content string
	excerpt string
}

// fakeClient is an in-memory knowledge base that counts calls.
type fakeClient struct {
	kb       kbclient.KnowledgeBase
	kbExists bool
	nodes    map[string]*kbclient.Node
	byURI    map[string]string
	history  map[string][]versionRecord
	nextID   int

	calls      map[string]int
	uriLookups map[string]int
	failOn     string
	failErr    error
	// sparseLookups drops section titles from uri lookups.
	sparseLookups bool
	// keepStateOnVersion leaves a published node published after a new
	// version is added.
	keepStateOnVersion bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		kb:         kbclient.KnowledgeBase{ID: "kb_1", Moniker: "sdk"},
		kbExists:   true,
		nodes:      map[string]*kbclient.Node{},
		byURI:      map[string]string{},
		history:    map[string][]versionRecord{},
		calls:      map[string]int{},
		uriLookups: map[string]int{},
	}
}

func (c *fakeClient) mutations() int {
	return c.calls["CreateNode"] + c.calls["CreateVersion"] + c.calls["UpdateLastVersion"] + c.calls["PublishNode"]
}

func (c *fakeClient) resetCalls() {
	c.calls = map[string]int{}
	c.uriLookups = map[string]int{}
}

func (c *fakeClient) fail(op string) error {
	c.calls[op]++
	if c.failOn == op {
		return c.failErr
	}
	return nil
}

// seed stores a node directly, bypassing call accounting.
func (c *fakeClient) seed(node kbclient.Node) kbclient.Node {
	c.nextID++
	node.ID = fmt.Sprintf("n%d", c.nextID)
	node.KbID = c.kb.ID
	stored := node
	c.nodes[node.ID] = &stored
	c.byURI[node.URI] = node.ID
	c.history[node.ID] = []versionRecord{{version: node.LastVersion, content: node.Content, excerpt: node.Excerpt}}
	return stored
}

func (c *fakeClient) node(uri string) kbclient.Node {
	id, ok := c.byURI[uri]
	if !ok {
		return kbclient.Node{}
	}
	return *c.nodes[id]
}

func (c *fakeClient) GetKnowledgeBase(ctx context.Context, moniker string) (kbclient.KnowledgeBase, bool, error) {
	if err := c.fail("GetKnowledgeBase"); err != nil {
		return kbclient.KnowledgeBase{}, false, err
	}
	if !c.kbExists || moniker != c.kb.Moniker {
		return kbclient.KnowledgeBase{}, false, nil
	}
	return c.kb, true, nil
}

func (c *fakeClient) ListDocumentTree(ctx context.Context, kb kbclient.KnowledgeBase) ([]kbclient.Document, error) {
	if err := c.fail("ListDocumentTree"); err != nil {
		return nil, err
	}
	return c.children(""), nil
}

func (c *fakeClient) children(parentID string) []kbclient.Document {
	var out []kbclient.Document
	for _, node := range c.nodes {
		if node.ParentID != parentID {
			continue
		}
		doc := kbclient.Document{ID: node.ID, Title: node.Title, IndexNum: node.IndexNum, URI: node.URI, Kind: node.Kind}
		if node.Kind == kbclient.KindSection {
			doc.Items = c.children(node.ID)
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndexNum < out[j].IndexNum })
	return out
}

func (c *fakeClient) GetNodeByURI(ctx context.Context, kbID, uri string) (kbclient.Node, bool, error) {
	if err := c.fail("GetNodeByURI"); err != nil {
		return kbclient.Node{}, false, err
	}
	c.uriLookups[uri]++
	id, ok := c.byURI[uri]
	if !ok {
		return kbclient.Node{}, false, nil
	}
	node := *c.nodes[id]
	if c.sparseLookups && node.Kind == kbclient.KindSection {
		node.Title = ""
		node.IndexTitle = ""
	}
	return node, true, nil
}

func (c *fakeClient) GetNodeByID(ctx context.Context, id string) (kbclient.Node, error) {
	if err := c.fail("GetNodeByID"); err != nil {
		return kbclient.Node{}, err
	}
	node, ok := c.nodes[id]
	if !ok {
		return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 404, Message: "not found"}
	}
	return *node, nil
}

func (c *fakeClient) CreateNode(ctx context.Context, node kbclient.Node) (kbclient.Node, error) {
	if err := c.fail("CreateNode"); err != nil {
		return kbclient.Node{}, err
	}
	if _, exists := c.byURI[node.URI]; exists {
		return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 409, Message: "duplicate uri " + node.URI}
	}
	if node.ParentID != "" {
		if _, ok := c.nodes[node.ParentID]; !ok {
			return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 400, Message: "unknown parent"}
		}
	}
	node.State = kbclient.StateDraft
	node.LastVersion = 0
	node.PubVersion = 0
	return c.seed(node), nil
}

func (c *fakeClient) CreateVersion(ctx context.Context, node kbclient.Node) (kbclient.Node, error) {
	if err := c.fail("CreateVersion"); err != nil {
		return kbclient.Node{}, err
	}
	stored, ok := c.nodes[node.ID]
	if !ok {
		return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 404, Message: "not found"}
	}
	c.applyRevision(stored, node)
	stored.LastVersion++
	if !c.keepStateOnVersion {
		stored.State = kbclient.StateDraft
	}
	c.history[stored.ID] = append(c.history[stored.ID], versionRecord{version: stored.LastVersion, content: stored.Content, excerpt: stored.Excerpt})
	return *stored, nil
}

func (c *fakeClient) UpdateLastVersion(ctx context.Context, node kbclient.Node) (kbclient.Node, error) {
	if err := c.fail("UpdateLastVersion"); err != nil {
		return kbclient.Node{}, err
	}
	stored, ok := c.nodes[node.ID]
	if !ok {
		return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 404, Message: "not found"}
	}
	c.applyRevision(stored, node)
	history := c.history[stored.ID]
	history[len(history)-1] = versionRecord{version: stored.LastVersion, content: stored.Content, excerpt: stored.Excerpt}
	return *stored, nil
}

func (c *fakeClient) applyRevision(stored *kbclient.Node, node kbclient.Node) {
	stored.Content = node.Content
	stored.Excerpt = node.Excerpt
	stored.Title = node.Title
	stored.IndexTitle = node.IndexTitle
}

func (c *fakeClient) PublishNode(ctx context.Context, node kbclient.Node) (kbclient.Node, error) {
	if err := c.fail("PublishNode"); err != nil {
		return kbclient.Node{}, err
	}
	stored, ok := c.nodes[node.ID]
	if !ok {
		return kbclient.Node{}, &kbclient.HTTPError{StatusCode: 404, Message: "not found"}
	}
	stored.State = kbclient.StatePublished
	stored.PubVersion = stored.LastVersion
	return *stored, nil
}
