// Package document models the block-structured rich content produced by the
// browser editor and renders it to HTML and plain text.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BlockType identifies the kind of content a block carries
type BlockType string

const (
	BlockHeader    BlockType = "header"
	BlockParagraph BlockType = "paragraph"
	BlockList      BlockType = "list"
	BlockChecklist BlockType = "checklist"
	BlockQuote     BlockType = "quote"
	BlockCode      BlockType = "code"
	BlockImage     BlockType = "image"
)

// ErrEmpty is returned when the serialized document is blank
var ErrEmpty = errors.New("document is empty")

// Document is an ordered list of content blocks
type Document struct {
	Time    int64   `json:"time,omitempty"`
	Version string  `json:"version,omitempty"`
	Blocks  []Block `json:"blocks"`
}

// Block is a single typed content block. Data is decoded lazily so a
// malformed payload only affects its own block.
type Block struct {
	ID   string          `json:"id"`
	Type BlockType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a serialized document
func Parse(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}

	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	return &doc, nil
}

// UnmarshalJSON decodes each block on its own and drops entries that are not
// well-formed blocks, so one bad entry does not lose the rest of the document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Time    int64             `json:"time,omitempty"`
		Version string            `json:"version,omitempty"`
		Blocks  []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Time = raw.Time
	d.Version = raw.Version
	d.Blocks = make([]Block, 0, len(raw.Blocks))
	for _, m := range raw.Blocks {
		var b Block
		if err := json.Unmarshal(m, &b); err != nil {
			continue
		}
		d.Blocks = append(d.Blocks, b)
	}
	return nil
}

type headerData struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

type textData struct {
	Text string `json:"text"`
}

type listData struct {
	Style string     `json:"style"`
	Items []listItem `json:"items"`
}

// listItem accepts both plain strings and nested-list objects ({"content": ...})
type listItem string

func (li *listItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*li = listItem(s)
		return nil
	}

	var obj struct {
		Content string `json:"content"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Content != "" {
		*li = listItem(obj.Content)
	} else {
		*li = listItem(obj.Text)
	}
	return nil
}

type checklistData struct {
	Items []checkItem `json:"items"`
}

type checkItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

type quoteData struct {
	Text    string `json:"text"`
	Caption string `json:"caption"`
}

type codeData struct {
	Code string `json:"code"`
}

type imageData struct {
	File struct {
		URL string `json:"url"`
	} `json:"file"`
	Caption string `json:"caption"`
}

// decode unmarshals block data into v, reporting false for missing or malformed payloads
func (b Block) decode(v any) bool {
	if len(b.Data) == 0 {
		return false
	}
	return json.Unmarshal(b.Data, v) == nil
}
