package document

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ImageMode selects how image blocks reference their pixels in HTML output
type ImageMode string

const (
	// ImagesData keeps the original source URL (typically a data: URL)
	ImagesData ImageMode = "data"
	// ImagesCID points images that yield an attachment at cid:<block id>
	ImagesCID ImageMode = "cid"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Options configures a Renderer
type Options struct {
	// Sanitize passes inline block markup through a UGC policy
	Sanitize bool
	// InlineImages selects the image reference mode (default ImagesData)
	InlineImages ImageMode
}

// Renderer converts documents to HTML and plain text. It holds no per-call
// state and is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
	images ImageMode
}

// NewRenderer creates a renderer
func NewRenderer(opts Options) *Renderer {
	r := &Renderer{images: opts.InlineImages}
	if r.images == "" {
		r.images = ImagesData
	}
	if opts.Sanitize {
		r.policy = bluemonday.UGCPolicy()
	}
	return r
}

var defaultRenderer = NewRenderer(Options{})

// ToHTML renders doc with default options
func ToHTML(doc *Document) string {
	return defaultRenderer.HTML(doc)
}

// ToText renders doc with default options
func ToText(doc *Document) string {
	return defaultRenderer.Text(doc)
}

// HTML renders all blocks and concatenates them
func (r *Renderer) HTML(doc *Document) string {
	if doc == nil {
		return ""
	}

	var b strings.Builder
	for _, block := range doc.Blocks {
		b.WriteString(r.blockHTML(block))
	}
	return b.String()
}

// Text renders all blocks as plain text, separated by blank lines
func (r *Renderer) Text(doc *Document) string {
	if doc == nil {
		return ""
	}

	lines := make([]string, 0, len(doc.Blocks))
	for _, block := range doc.Blocks {
		if line := blockText(block); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n\n")
}

func (r *Renderer) inline(s string) string {
	if r.policy == nil {
		return s
	}
	return r.policy.Sanitize(s)
}

func (r *Renderer) blockHTML(block Block) string {
	switch block.Type {
	case BlockHeader:
		var d headerData
		if !block.decode(&d) {
			return ""
		}
		level := d.Level
		if level < 1 || level > 6 {
			level = 2
		}
		return fmt.Sprintf("<h%d>%s</h%d>", level, r.inline(d.Text), level)

	case BlockParagraph:
		var d textData
		if !block.decode(&d) {
			return ""
		}
		return "<p>" + r.inline(d.Text) + "</p>"

	case BlockList:
		var d listData
		if !block.decode(&d) {
			return ""
		}
		var items strings.Builder
		for _, item := range d.Items {
			items.WriteString("<li>" + r.inline(string(item)) + "</li>")
		}
		if d.Style == "ordered" {
			return "<ol>" + items.String() + "</ol>"
		}
		return "<ul>" + items.String() + "</ul>"

	case BlockChecklist:
		var d checklistData
		if !block.decode(&d) {
			return ""
		}
		var items strings.Builder
		for _, item := range d.Items {
			class := ""
			if item.Checked {
				class = "checked"
			}
			items.WriteString(`<li class="` + class + `">` + r.inline(item.Text) + "</li>")
		}
		return `<ul class="checklist">` + items.String() + "</ul>"

	case BlockQuote:
		var d quoteData
		if !block.decode(&d) {
			return ""
		}
		footer := ""
		if d.Caption != "" {
			footer = "<footer>" + r.inline(d.Caption) + "</footer>"
		}
		return "<blockquote>" + r.inline(d.Text) + footer + "</blockquote>"

	case BlockCode:
		var d codeData
		if !block.decode(&d) {
			return ""
		}
		return "<pre><code>" + d.Code + "</code></pre>"

	case BlockImage:
		var d imageData
		if !block.decode(&d) {
			return ""
		}
		src := d.File.URL
		if r.images == ImagesCID && block.ID != "" {
			if _, ok := imageAttachment(block.ID, src); ok {
				src = "cid:" + block.ID
			}
		}
		caption := r.inline(d.Caption)
		return `<figure><img src="` + src + `" alt="` + caption + `" /><figcaption>` + caption + "</figcaption></figure>"

	default:
		return ""
	}
}

func blockText(block Block) string {
	switch block.Type {
	case BlockHeader:
		var d headerData
		if !block.decode(&d) {
			return ""
		}
		return cleanText(d.Text)

	case BlockParagraph:
		var d textData
		if !block.decode(&d) {
			return ""
		}
		return cleanText(d.Text)

	case BlockList:
		var d listData
		if !block.decode(&d) {
			return ""
		}
		lines := make([]string, len(d.Items))
		for i, item := range d.Items {
			cleaned := cleanText(string(item))
			if d.Style == "ordered" {
				lines[i] = strconv.Itoa(i+1) + ". " + cleaned
			} else {
				lines[i] = "- " + cleaned
			}
		}
		return strings.Join(lines, "\n")

	case BlockChecklist:
		var d checklistData
		if !block.decode(&d) {
			return ""
		}
		lines := make([]string, len(d.Items))
		for i, item := range d.Items {
			marker := "[ ]"
			if item.Checked {
				marker = "[x]"
			}
			lines[i] = marker + " " + cleanText(item.Text)
		}
		return strings.Join(lines, "\n")

	case BlockQuote:
		var d quoteData
		if !block.decode(&d) {
			return ""
		}
		return cleanText(d.Text)

	case BlockCode:
		var d codeData
		if !block.decode(&d) {
			return ""
		}
		return d.Code

	case BlockImage:
		var d imageData
		if !block.decode(&d) || d.Caption == "" {
			return ""
		}
		return cleanText(d.Caption)

	default:
		return ""
	}
}

// cleanText strips markup tags and collapses whitespace runs
func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
