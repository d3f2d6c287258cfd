package kbsync

import (
	"context"
	"testing"

	"github.com/aistant/aistdoc/internal/kbclient"
)

func TestRootSectionScenario(t *testing.T) {
	client := newFakeClient()
	ctx := context.Background()
	session, err := Bootstrap(ctx, client, Options{
		KnowledgeBase:    "sdk",
		RootSectionURI:   "docs",
		RootSectionTitle: "Docs",
		VersionOnChange:  true,
	})
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	docs := client.node("docs")
	if docs.IndexNum != 1024 || docs.ParentID != "" {
		t.Fatalf("expected docs at 1024 under the root, got %+v", docs)
	}

	parent, err := session.ResolveSection(ctx, "", "", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	intro, action, err := session.Upsert(ctx, parent, NodeSpec{URI: "intro", Title: "Intro", Content: "A", Kind: kbclient.KindArticle})
	if err != nil || action != ActionCreated {
		t.Fatalf("create intro: %s %v", action, err)
	}
	if intro.URI != "docs/intro" || intro.IndexNum != 1024 || intro.ParentID != docs.ID {
		t.Fatalf("unexpected intro %+v", intro)
	}

	revised, action, err := session.Upsert(ctx, parent, NodeSpec{URI: "intro", Title: "Intro", Content: "B", Kind: kbclient.KindArticle})
	if err != nil || action != ActionRevised {
		t.Fatalf("revise intro: %s %v", action, err)
	}
	if revised.LastVersion != 1 {
		t.Fatalf("intro lastVersion = %d, want 1", revised.LastVersion)
	}

	setup, action, err := session.Upsert(ctx, parent, NodeSpec{URI: "setup", Title: "Setup", Content: "C", Kind: kbclient.KindArticle})
	if err != nil || action != ActionCreated {
		t.Fatalf("create setup: %s %v", action, err)
	}
	if setup.IndexNum != 2048 {
		t.Fatalf("setup indexNum = %d, want 2048", setup.IndexNum)
	}
}
