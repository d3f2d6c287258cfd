package kbsync

import (
	"sort"

	"github.com/aistant/aistdoc/internal/kbclient"
)

const (
	// RootKey is the parent key of top-level nodes. Real uris are never
	// empty, so it cannot collide with a section.
	RootKey = ""
	// IndexStep is the gap between sibling ordering keys.
	IndexStep = 1024
)

// OrderingTable tracks, per parent key, the ordering key of every known
// child. It is not safe for concurrent use.
type OrderingTable struct {
	parents map[string]map[string]int
}

func NewOrderingTable() *OrderingTable {
	return &OrderingTable{parents: map[string]map[string]int{RootKey: {}}}
}

// AddParent makes key a known parent. Existing children are kept.
func (t *OrderingTable) AddParent(key string) {
	if _, ok := t.parents[key]; !ok {
		t.parents[key] = map[string]int{}
	}
}

func (t *OrderingTable) HasParent(key string) bool {
	_, ok := t.parents[key]
	return ok
}

// Register records an existing child under parentKey.
func (t *OrderingTable) Register(parentKey, childURI string, indexNum int) {
	t.AddParent(parentKey)
	t.parents[parentKey][childURI] = indexNum
}

// RegisterIfAbsent records childURI unless the parent already knows it.
func (t *OrderingTable) RegisterIfAbsent(parentKey, childURI string, indexNum int) {
	t.AddParent(parentKey)
	if _, ok := t.parents[parentKey][childURI]; !ok {
		t.parents[parentKey][childURI] = indexNum
	}
}

// Next returns the key a new child of parentKey would get.
func (t *OrderingTable) Next(parentKey string) int {
	highest := 0
	for _, indexNum := range t.parents[parentKey] {
		if indexNum > highest {
			highest = indexNum
		}
	}
	return highest + IndexStep
}

// Allocate assigns childURI the next ordering key under parentKey and
// registers it.
func (t *OrderingTable) Allocate(parentKey, childURI string) int {
	indexNum := t.Next(parentKey)
	t.Register(parentKey, childURI, indexNum)
	return indexNum
}

func (t *OrderingTable) IndexOf(parentKey, childURI string) (int, bool) {
	indexNum, ok := t.parents[parentKey][childURI]
	return indexNum, ok
}

// Children lists the children of parentKey in display order.
func (t *OrderingTable) Children(parentKey string) []string {
	children := t.parents[parentKey]
	out := make([]string, 0, len(children))
	for uri := range children {
		out = append(out, uri)
	}
	sort.Slice(out, func(i, j int) bool {
		if children[out[i]] != children[out[j]] {
			return children[out[i]] < children[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Load registers a listed document tree. Sections become parents; every
// section or article is recorded under parentKey. Root-kind documents are
// transparent: their items belong to parentKey.
func (t *OrderingTable) Load(docs []kbclient.Document, parentKey string) {
	t.AddParent(parentKey)
	for _, doc := range docs {
		switch doc.Kind {
		case kbclient.KindRoot:
			t.Load(doc.Items, parentKey)
		case kbclient.KindSection:
			t.AddParent(doc.URI)
			t.Register(parentKey, doc.URI, doc.IndexNum)
			t.Load(doc.Items, doc.URI)
		case kbclient.KindArticle:
			t.Register(parentKey, doc.URI, doc.IndexNum)
		}
	}
}
