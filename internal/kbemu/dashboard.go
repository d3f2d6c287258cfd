package kbemu

import (
	"html/template"
	"net/http"
	"sort"

	"github.com/aistant/aistdoc/internal/kbclient"
	"go.uber.org/zap"
)

type dashboardRow struct {
	Depth       int
	URI         string
	Title       string
	Kind        kbclient.Kind
	State       kbclient.State
	IndexNum    int
	LastVersion int
	PubVersion  int
}

type dashboardKB struct {
	Team string
	KB   kbclient.KnowledgeBase
	Rows []dashboardRow
}

type dashboardPage struct {
	Stats          Stats
	KnowledgeBases []dashboardKB
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"indent": func(depth int) int { return depth * 18 },
}).Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>aistdoc emulator</title>
  <style>
    :root { --ink: #102223; --paper: #f8f4ea; --card: #fffdf9; --line: #d7cbb3; --accent: #1f9d88; --accent-2: #e88a3d; --muted: #6f7d7d; }
    body { margin: 0; padding: 20px; font-family: "Avenir Next", "Segoe UI", sans-serif; color: var(--ink); background: var(--paper); }
    .card { max-width: 1100px; margin: 0 auto 14px; background: var(--card); border: 1px solid var(--line); border-radius: 14px; padding: 16px; }
    h1, h2 { margin: 0 0 8px; }
    .stats span { margin-right: 18px; color: var(--muted); }
    table { width: 100%; border-collapse: collapse; font-size: 0.92rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    .published { color: var(--accent); }
    .draft { color: var(--accent-2); }
    code { font-family: "IBM Plex Mono", monospace; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Knowledge base emulator</h1>
    <div class="stats">
      <span>knowledge bases: {{.Stats.KnowledgeBases}}</span>
      <span>nodes: {{.Stats.Nodes}}</span>
      <span>published: {{.Stats.Published}}</span>
      <span>mutations: {{.Stats.Mutations}}</span>
    </div>
  </div>
  {{range .KnowledgeBases}}
  <div class="card">
    <h2>{{.KB.Title}} <code>{{.Team}}/{{.KB.Moniker}}</code></h2>
    {{if .Rows}}
    <table>
      <tr><th>uri</th><th>title</th><th>kind</th><th>index</th><th>state</th><th>version</th></tr>
      {{range .Rows}}
      <tr>
        <td style="padding-left: {{indent .Depth}}px"><code>{{.URI}}</code></td>
        <td>{{.Title}}</td>
        <td>{{.Kind}}</td>
        <td>{{.IndexNum}}</td>
        <td class="{{.State}}">{{.State}}</td>
        <td>{{.LastVersion}} (published {{.PubVersion}})</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <p>empty</p>
    {{end}}
  </div>
  {{end}}
</body>
</html>`))

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page := dashboardPage{Stats: s.store.Stats(), KnowledgeBases: s.store.dashboard()}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, page); err != nil {
		s.logger.Warn("rendering dashboard", zap.Error(err))
	}
}

// dashboard flattens every knowledge base into rows in tree order.
func (s *Store) dashboard() []dashboardKB {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := map[string][]*nodeRecord{}
	for _, record := range s.nodes {
		key := record.Node.KbID + "/" + record.Node.ParentID
		children[key] = append(children[key], record)
	}
	for _, items := range children {
		sort.Slice(items, func(i, j int) bool {
			if items[i].Node.IndexNum != items[j].Node.IndexNum {
				return items[i].Node.IndexNum < items[j].Node.IndexNum
			}
			return items[i].Node.URI < items[j].Node.URI
		})
	}

	monikers := make([]string, 0, len(s.kbs))
	for moniker := range s.kbs {
		monikers = append(monikers, moniker)
	}
	sort.Strings(monikers)

	out := make([]dashboardKB, 0, len(monikers))
	for _, moniker := range monikers {
		record := s.kbs[moniker]
		entry := dashboardKB{Team: record.Team, KB: record.KB}
		var walk func(parentID string, depth int)
		walk = func(parentID string, depth int) {
			for _, item := range children[record.KB.ID+"/"+parentID] {
				node := item.Node
				entry.Rows = append(entry.Rows, dashboardRow{
					Depth:       depth,
					URI:         node.URI,
					Title:       node.Title,
					Kind:        node.Kind,
					State:       node.State,
					IndexNum:    node.IndexNum,
					LastVersion: node.LastVersion,
					PubVersion:  node.PubVersion,
				})
				walk(node.ID, depth+1)
			}
		}
		walk("", 0)
		out = append(out, entry)
	}
	return out
}
