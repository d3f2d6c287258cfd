package kbclient

import "time"

// Kind is the remote document kind. Values match the service's wire format.
type Kind int

const (
	KindRoot    Kind = 0
	KindArticle Kind = 10
	KindSection Kind = 20
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindArticle:
		return "article"
	case KindSection:
		return "section"
	default:
		return "unknown"
	}
}

type State int

const (
	StateDraft     State = 0
	StatePublished State = 1
)

func (s State) String() string {
	if s == StatePublished {
		return "published"
	}
	return "draft"
}

type FormatType int

const (
	FormatMarkdown  FormatType = 0
	FormatHTML      FormatType = 1
	FormatPlainText FormatType = 2
)

// Node is a section or an article as stored by the knowledge base.
type Node struct {
	ID            string     `json:"id,omitempty"`
	TeamID        string     `json:"teamId,omitempty"`
	KbID          string     `json:"kbId,omitempty"`
	OwnerID       string     `json:"ownerId,omitempty"`
	ParentID      string     `json:"parentId,omitempty"`
	URI           string     `json:"uri"`
	Title         string     `json:"title"`
	IndexTitle    string     `json:"indexTitle"`
	Excerpt       string     `json:"excerpt,omitempty"`
	Content       string     `json:"content,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	IndexNum      int        `json:"indexNum"`
	Kind          Kind       `json:"kind"`
	FormatType    FormatType `json:"formatType"`
	State         State      `json:"state"`
	LastVersion   int        `json:"lastVersion"`
	PubVersion    int        `json:"pubVersion"`
	DateCreated   time.Time  `json:"dateCreated,omitempty"`
	DateUpdated   time.Time  `json:"dateUpdated,omitempty"`
	DatePublished time.Time  `json:"datePublished,omitempty"`
}

// Document is the projection returned by the tree listing. Items nests
// the children of sections.
type Document struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	IndexNum int        `json:"indexNum"`
	URI      string     `json:"uri"`
	FullPath string     `json:"fullPath,omitempty"`
	Kind     Kind       `json:"kind"`
	Items    []Document `json:"items,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

type DocumentPage struct {
	Page            int        `json:"page"`
	Count           int        `json:"count"`
	HasNextPage     bool       `json:"hasNextPage"`
	HasPreviousPage bool       `json:"hasPreviousPage"`
	Total           int        `json:"total"`
	Items           []Document `json:"items"`
}

type KnowledgeBase struct {
	ID          string `json:"id"`
	Moniker     string `json:"moniker"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Lang        string `json:"lang,omitempty"`
	IsHidden    bool   `json:"isHidden,omitempty"`
}
