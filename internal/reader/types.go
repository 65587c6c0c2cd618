// Package reader defines core types shared across subsystems.
package reader

import (
	"time"
)

// Snapshot is a readability-extracted view of a page's DOM at one instant.
type Snapshot struct {
	Href          string `json:"href"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	TextContent   string `json:"textContent"`
	HTML          string `json:"html"`
	PublishedTime string `json:"publishedTime,omitempty"`
}

// IsEmpty reports whether the readability parse produced nothing usable.
func (s Snapshot) IsEmpty() bool {
	return s.Content == "" && s.TextContent == "" && s.HTML == ""
}

// PageResult is one snapshot/screenshot pair yielded by the snapshot pipeline.
type PageResult struct {
	URL        string
	Snapshot   Snapshot
	Screenshot []byte
	Final      bool
}

// FormatMode selects the output representation of a snapshot.
type FormatMode string

// Supported format modes.
const (
	ModeDefault    FormatMode = "default"
	ModeMarkdown   FormatMode = "markdown"
	ModeHTML       FormatMode = "html"
	ModeText       FormatMode = "text"
	ModeScreenshot FormatMode = "screenshot"
)

// ParseFormatMode maps an X-Respond-With header value to a FormatMode.
func ParseFormatMode(raw string) (FormatMode, bool) {
	switch FormatMode(raw) {
	case ModeMarkdown, ModeHTML, ModeText, ModeScreenshot:
		return FormatMode(raw), true
	case "", ModeDefault:
		return ModeDefault, true
	default:
		return "", false
	}
}

// FormattedPage is the caller-facing rendering of a snapshot.
type FormattedPage struct {
	URL           string
	Title         string
	Content       string
	HTML          string
	Text          string
	ScreenshotURL string
	Mode          FormatMode
}

// String renders the page in the caller's chosen format.
func (p FormattedPage) String() string {
	switch p.Mode {
	case ModeHTML:
		return p.HTML
	case ModeText:
		return p.Text
	case ModeScreenshot:
		return p.ScreenshotURL
	default:
		if p.Title == "" {
			return p.Content
		}
		return p.Title + "\n\n" + p.Content
	}
}

// CrawledRecord is the persisted index row for one stored snapshot.
type CrawledRecord struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	URL          string    `json:"url"`
	SnapshotPath string    `json:"snapshot_path"`
}

// RequestOptions carries per-request knobs parsed from headers.
type RequestOptions struct {
	Mode             FormatMode
	NoCache          bool
	ProxyURL         string
	Cookies          []string
	WithGeneratedAlt bool
	WithImageSummary bool
	WithLinksSummary bool
}

// LLMMessage is one entry of an ordered conversation history.
type LLMMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Message roles understood by the interrogator loop.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// ToolCall is a named, structured invocation emitted by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDescriptor is the machine-readable description of a registered tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SearchResult is one hit returned by the web searcher.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
