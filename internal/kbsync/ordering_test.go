package kbsync

import (
	"testing"

	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/google/go-cmp/cmp"
)

func TestOrderingTableAllocatesInSteps(t *testing.T) {
	table := NewOrderingTable()
	table.AddParent("docs")

	if got := table.Next("docs"); got != 1024 {
		t.Fatalf("first key of an empty parent = %d, want 1024", got)
	}
	var keys []int
	for _, uri := range []string{"docs/a", "docs/b", "docs/c"} {
		keys = append(keys, table.Allocate("docs", uri))
	}
	if diff := cmp.Diff([]int{1024, 2048, 3072}, keys); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"docs/a", "docs/b", "docs/c"}, table.Children("docs")); diff != "" {
		t.Fatalf("unexpected children (-want +got):\n%s", diff)
	}
}

func TestOrderingTableAllocatesAfterExistingMax(t *testing.T) {
	table := NewOrderingTable()
	table.Register(RootKey, "a", 100)
	table.Register(RootKey, "b", 5000)
	table.Register(RootKey, "c", 2048)

	if got := table.Allocate(RootKey, "d"); got != 6024 {
		t.Fatalf("Allocate after max 5000 = %d, want 6024", got)
	}
}

func TestOrderingTableUnknownParentStartsEmpty(t *testing.T) {
	table := NewOrderingTable()
	if table.HasParent("ghost") {
		t.Fatalf("expected ghost to be unknown")
	}
	if got := table.Allocate("ghost", "ghost/a"); got != IndexStep {
		t.Fatalf("Allocate on unknown parent = %d, want %d", got, IndexStep)
	}
	if !table.HasParent("ghost") {
		t.Fatalf("expected allocation to register the parent")
	}
}

func TestOrderingTableRegisterIfAbsentKeepsExisting(t *testing.T) {
	table := NewOrderingTable()
	table.Register("docs", "docs/a", 1024)
	table.RegisterIfAbsent("docs", "docs/a", 9999)
	if got, _ := table.IndexOf("docs", "docs/a"); got != 1024 {
		t.Fatalf("IndexOf(docs/a) = %d, want 1024", got)
	}
	table.RegisterIfAbsent("docs", "docs/b", 3000)
	if got, ok := table.IndexOf("docs", "docs/b"); !ok || got != 3000 {
		t.Fatalf("IndexOf(docs/b) = %d/%v, want 3000/true", got, ok)
	}
}

func TestOrderingTableLoadWalksTreeOnce(t *testing.T) {
	docs := []kbclient.Document{
		{URI: "docs", Kind: kbclient.KindSection, IndexNum: 1024, Items: []kbclient.Document{
			{URI: "docs/intro", Kind: kbclient.KindArticle, IndexNum: 1024},
			{URI: "docs/api", Kind: kbclient.KindSection, IndexNum: 2048, Items: []kbclient.Document{
				{URI: "docs/api/client", Kind: kbclient.KindArticle, IndexNum: 512},
			}},
		}},
		{URI: "faq", Kind: kbclient.KindArticle, IndexNum: 4096},
		{URI: "", Kind: kbclient.KindRoot, Items: []kbclient.Document{
			{URI: "legal", Kind: kbclient.KindArticle, IndexNum: 8192},
		}},
	}
	table := NewOrderingTable()
	table.Load(docs, RootKey)

	if diff := cmp.Diff([]string{"docs", "faq", "legal"}, table.Children(RootKey)); diff != "" {
		t.Fatalf("unexpected root children (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"docs/intro", "docs/api"}, table.Children("docs")); diff != "" {
		t.Fatalf("unexpected docs children (-want +got):\n%s", diff)
	}
	if !table.HasParent("docs/api") {
		t.Fatalf("expected nested section to be a parent")
	}
	if table.HasParent("faq") {
		t.Fatalf("articles must not become parents")
	}
	if got := table.Next("docs/api"); got != 1536 {
		t.Fatalf("Next(docs/api) = %d, want 1536", got)
	}
	if got := table.Next(RootKey); got != 9216 {
		t.Fatalf("Next(root) = %d, want 9216", got)
	}
}

func TestCombineURI(t *testing.T) {
	cases := []struct {
		base, uri, want string
	}{
		{"docs", "intro", "docs/intro"},
		{"docs/", "/intro", "docs/intro"},
		{"", "intro", "intro"},
		{"docs", "", "docs"},
		{"docs//", "a/b", "docs/a/b"},
	}
	for _, tc := range cases {
		if got := CombineURI(tc.base, tc.uri); got != tc.want {
			t.Fatalf("CombineURI(%q, %q) = %q, want %q", tc.base, tc.uri, got, tc.want)
		}
	}
}
