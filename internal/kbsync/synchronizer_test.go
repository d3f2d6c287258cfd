package kbsync

import (
	"context"
	"errors"
	"testing"

	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type request struct {
	sectionURI, sectionTitle string
	spec                     NodeSpec
}

func runRequests(t *testing.T, session *Session, requests []request) []Action {
	t.Helper()
	ctx := context.Background()
	var actions []Action
	for _, req := range requests {
		parent, err := session.ResolveSection(ctx, "", req.sectionURI, req.sectionTitle)
		if err != nil {
			t.Fatalf("resolve %q failed: %v", req.sectionURI, err)
		}
		_, action, err := session.Upsert(ctx, parent, req.spec)
		if err != nil {
			t.Fatalf("upsert %q failed: %v", req.spec.URI, err)
		}
		actions = append(actions, action)
	}
	return actions
}

func article(uri, title, content, excerpt string) NodeSpec {
	return NodeSpec{URI: uri, Title: title, Content: content, Excerpt: excerpt, Kind: kbclient.KindArticle}
}

func TestUpsertSecondRunMakesNoMutations(t *testing.T) {
	requests := []request{
		{spec: article("intro", "Intro", "A", "first")},
		{sectionURI: "guide", sectionTitle: "Guide", spec: article("install", "Install", "steps", "how")},
		{sectionURI: "guide", sectionTitle: "Guide", spec: article("configure", "Configure", "keys", "")},
		{sectionURI: "guide/advanced", sectionTitle: "Advanced", spec: article("tuning", "Tuning", "knobs", "")},
		{sectionURI: "guide", sectionTitle: "Guide", spec: NodeSpec{URI: "recipes", Title: "Recipes", Content: "r", Kind: kbclient.KindSection}},
	}
	opts := Options{KnowledgeBase: "sdk", RootSectionURI: "docs", RootSectionTitle: "Docs", VersionOnChange: true, PublishOnWrite: true}
	client := newFakeClient()

	first, err := Bootstrap(context.Background(), client, opts)
	if err != nil {
		t.Fatalf("first bootstrap failed: %v", err)
	}
	runRequests(t, first, requests)
	snapshot := map[string]kbclient.Node{}
	for uri := range client.byURI {
		snapshot[uri] = client.node(uri)
	}

	client.resetCalls()
	second, err := Bootstrap(context.Background(), client, opts)
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	actions := runRequests(t, second, requests)
	if client.mutations() != 0 {
		t.Fatalf("expected zero mutating calls on the second run, got %v", client.calls)
	}
	for i, action := range actions {
		if action != ActionUnchanged {
			t.Fatalf("request %d action = %s, want unchanged", i, action)
		}
	}
	after := map[string]kbclient.Node{}
	for uri := range client.byURI {
		after[uri] = client.node(uri)
	}
	if diff := cmp.Diff(snapshot, after); diff != "" {
		t.Fatalf("remote tree changed on the second run (-first +second):\n%s", diff)
	}
}

func TestUpsertAllocatesDistinctKeysInCreationOrder(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{RootSectionURI: "docs", RootSectionTitle: "Docs"})

	var requests []request
	for _, uri := range []string{"a", "b", "c", "d"} {
		requests = append(requests, request{sectionURI: "guide", sectionTitle: "Guide", spec: article(uri, uri, uri, "")})
	}
	runRequests(t, session, requests)

	var keys []int
	for _, uri := range []string{"docs/guide/a", "docs/guide/b", "docs/guide/c", "docs/guide/d"} {
		keys = append(keys, client.node(uri).IndexNum)
	}
	if diff := cmp.Diff([]int{1024, 2048, 3072, 4096}, keys); diff != "" {
		t.Fatalf("unexpected sibling keys (-want +got):\n%s", diff)
	}
}

func TestUpsertRevisionPolicy(t *testing.T) {
	cases := []struct {
		name            string
		versionOnChange bool
		wantVersion     int
		wantHistory     []versionRecord
	}{
		{
			name:            "append version",
			versionOnChange: true,
			wantVersion:     1,
			wantHistory:     []versionRecord{{version: 0, content: "A"}, {version: 1, content: "B"}},
		},
		{
			name:            "overwrite latest",
			versionOnChange: false,
			wantVersion:     0,
			wantHistory:     []versionRecord{{version: 0, content: "B"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			session := bootstrapForTest(t, client, Options{VersionOnChange: tc.versionOnChange})
			ctx := context.Background()

			created, action, err := session.Upsert(ctx, nil, article("intro", "Intro", "A", ""))
			if err != nil || action != ActionCreated {
				t.Fatalf("create: action=%s err=%v", action, err)
			}
			revised, action, err := session.Upsert(ctx, nil, article("intro", "Intro", "B", ""))
			if err != nil || action != ActionRevised {
				t.Fatalf("revise: action=%s err=%v", action, err)
			}
			if revised.ID != created.ID || revised.IndexNum != created.IndexNum {
				t.Fatalf("revision changed identity or order: %+v -> %+v", created, revised)
			}
			if revised.LastVersion != tc.wantVersion {
				t.Fatalf("lastVersion = %d, want %d", revised.LastVersion, tc.wantVersion)
			}
			if diff := cmp.Diff(tc.wantHistory, client.history[created.ID], cmp.AllowUnexported(versionRecord{})); diff != "" {
				t.Fatalf("unexpected version history (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpsertComparesExcerptForArticles(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{VersionOnChange: true})
	ctx := context.Background()

	if _, _, err := session.Upsert(ctx, nil, article("intro", "Intro", "A", "short")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	node, action, err := session.Upsert(ctx, nil, article("intro", "Intro", "A", "longer"))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if action != ActionRevised || node.Excerpt != "longer" {
		t.Fatalf("expected excerpt revision, got %s %+v", action, node)
	}

	if _, _, err := session.Upsert(ctx, nil, NodeSpec{URI: "guide", Title: "Guide", Content: "c", Excerpt: "one", Kind: kbclient.KindSection}); err != nil {
		t.Fatalf("create section failed: %v", err)
	}
	_, action, err = session.Upsert(ctx, nil, NodeSpec{URI: "guide", Title: "Guide", Content: "c", Excerpt: "two", Kind: kbclient.KindSection})
	if err != nil {
		t.Fatalf("upsert section failed: %v", err)
	}
	if action != ActionUnchanged {
		t.Fatalf("section excerpt must not trigger a revision, got %s", action)
	}
}

func TestUpsertCarriesTitleOnRevision(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{VersionOnChange: true})
	ctx := context.Background()

	if _, _, err := session.Upsert(ctx, nil, article("intro", "Intro", "A", "")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, action, err := session.Upsert(ctx, nil, article("intro", "Introduction", "A", ""))
	if err != nil || action != ActionUnchanged {
		t.Fatalf("a title change alone must be a no-op, got %s %v", action, err)
	}
	if _, _, err := session.Upsert(ctx, nil, article("intro", "Introduction", "B", "")); err != nil {
		t.Fatalf("revise failed: %v", err)
	}
	stored := client.node("intro")
	if stored.Title != "Introduction" || stored.IndexTitle != "Introduction" {
		t.Fatalf("expected title carried on revision, got %+v", stored)
	}
}

func TestUpsertPublishesDraftEvenWhenUnchanged(t *testing.T) {
	client := newFakeClient()
	client.seed(kbclient.Node{URI: "intro", Title: "Intro", Content: "A", Kind: kbclient.KindArticle, IndexNum: 1024, State: kbclient.StateDraft, LastVersion: 3})
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true})

	node, action, err := session.Upsert(context.Background(), nil, article("intro", "Intro", "A", ""))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if action != ActionUnchanged {
		t.Fatalf("action = %s, want unchanged", action)
	}
	if client.calls["PublishNode"] != 1 {
		t.Fatalf("expected the draft to be published, got %v", client.calls)
	}
	if node.State != kbclient.StatePublished || node.PubVersion != 3 {
		t.Fatalf("expected published node at version 3, got %+v", node)
	}
}

func TestUpsertKeepsPublishedStateMonotonic(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true, VersionOnChange: true})
	ctx := context.Background()

	var pubVersions []int
	for _, content := range []string{"A", "A", "B", "B", "C"} {
		node, _, err := session.Upsert(ctx, nil, article("intro", "Intro", content, ""))
		if err != nil {
			t.Fatalf("upsert %q failed: %v", content, err)
		}
		if node.State != kbclient.StatePublished {
			t.Fatalf("node left in %s after %q", node.State, content)
		}
		pubVersions = append(pubVersions, node.PubVersion)
	}
	if diff := cmp.Diff([]int{0, 0, 1, 1, 2}, pubVersions); diff != "" {
		t.Fatalf("unexpected pubVersion sequence (-want +got):\n%s", diff)
	}
	if client.calls["PublishNode"] != 3 {
		t.Fatalf("expected publish only after create and revisions, got %d", client.calls["PublishNode"])
	}
}

func TestUpsertRepublishesLaggingPubVersion(t *testing.T) {
	client := newFakeClient()
	client.keepStateOnVersion = true
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true, VersionOnChange: true})
	ctx := context.Background()
	if _, _, err := session.Upsert(ctx, nil, article("intro", "Intro", "A", "")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	client.resetCalls()

	node, action, err := session.Upsert(ctx, nil, article("intro", "Intro", "B", ""))
	if err != nil || action != ActionRevised {
		t.Fatalf("revise: %s %v", action, err)
	}
	if client.calls["PublishNode"] != 1 {
		t.Fatalf("expected the new version to be published, got %d publish calls", client.calls["PublishNode"])
	}
	if node.State != kbclient.StatePublished || node.PubVersion != 1 || node.LastVersion != 1 {
		t.Fatalf("unexpected node %+v", node)
	}
}

func TestUpsertSectionLeafBecomesParent(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{})

	section, action, err := session.Upsert(context.Background(), nil, NodeSpec{URI: "guide", Title: "Guide", Content: "overview", Kind: kbclient.KindSection})
	if err != nil || action != ActionCreated {
		t.Fatalf("create section: %s %v", action, err)
	}
	if !session.Ordering().HasParent("guide") {
		t.Fatalf("expected the section to be registered as a parent")
	}
	child, _, err := session.Upsert(context.Background(), section, article("intro", "Intro", "A", ""))
	if err != nil {
		t.Fatalf("create child failed: %v", err)
	}
	if child.URI != "guide/intro" || child.ParentID != section.ID || child.IndexNum != 1024 {
		t.Fatalf("unexpected child %+v", child)
	}
}

func TestUpsertRejectsInvalidRequests(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{})
	ctx := context.Background()
	parent, _, err := session.Upsert(ctx, nil, article("faq", "FAQ", "q", ""))
	if err != nil {
		t.Fatalf("create article failed: %v", err)
	}
	client.resetCalls()

	cases := []struct {
		parent *Node
		spec   NodeSpec
	}{
		{parent: nil, spec: article("", "Empty", "x", "")},
		{parent: parent, spec: article("more", "More", "x", "")},
		{parent: nil, spec: NodeSpec{URI: "root", Kind: kbclient.KindRoot}},
	}
	for _, tc := range cases {
		_, _, err := session.Upsert(ctx, tc.parent, tc.spec)
		var invalid *InvalidActionError
		if !errors.As(err, &invalid) {
			t.Fatalf("Upsert(%+v) error = %v, want InvalidActionError", tc.spec, err)
		}
	}
	if len(client.calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", client.calls)
	}
}

func TestUpsertRejectsKindChange(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true})
	ctx := context.Background()
	if _, _, err := session.Upsert(ctx, nil, article("guide", "Guide", "old page", "")); err != nil {
		t.Fatalf("create article failed: %v", err)
	}
	client.resetCalls()

	_, _, err := session.Upsert(ctx, nil, NodeSpec{URI: "guide", Title: "Guide", Content: "section body", Kind: kbclient.KindSection})
	var invalid *InvalidActionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidActionError", err)
	}
	if client.mutations() != 0 {
		t.Fatalf("expected the article to be left alone, got %v", client.calls)
	}
	if got := client.node("guide"); got.Kind != kbclient.KindArticle || got.Content != "old page" {
		t.Fatalf("article changed: %+v", got)
	}
}

func TestUpsertPropagatesMutationFailure(t *testing.T) {
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true})
	client.failOn = "PublishNode"
	client.failErr = &kbclient.HTTPError{StatusCode: 502, Message: "bad gateway"}

	_, _, err := session.Upsert(context.Background(), nil, article("intro", "Intro", "A", ""))
	if kbclient.StatusCode(err) != 502 {
		t.Fatalf("expected wrapped 502, got %v", err)
	}
	if client.node("intro").ID == "" {
		t.Fatalf("the create before the failed publish stays committed")
	}
}

func TestUpsertLogsEveryAction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	client := newFakeClient()
	session := bootstrapForTest(t, client, Options{PublishOnWrite: true, Logger: zap.New(core)})
	ctx := context.Background()

	for _, content := range []string{"A", "A", "B"} {
		if _, _, err := session.Upsert(ctx, nil, article("intro", "Intro", content, "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	for _, message := range []string{"created article", "node already exists with this content", "revised article", "published article", "node already published"} {
		if logs.FilterMessage(message).Len() == 0 {
			t.Fatalf("expected a %q entry, got %v", message, logs.All())
		}
	}
	entry := logs.FilterMessage("revised article").All()[0]
	if entry.ContextMap()["uri"] != "intro" {
		t.Fatalf("expected uri field on log entry, got %v", entry.ContextMap())
	}
}
