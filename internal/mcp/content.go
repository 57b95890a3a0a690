package mcp

import (
	"encoding/json"
	"fmt"
)

// Content is one item of tool output. Implementations are TextContent,
// ImageContent and ResourceContent.
type Content interface {
	ContentType() string
	isContent()
}

// TextContent is plain text output.
type TextContent struct {
	Text string
}

// ImageContent is a base64-encoded image.
type ImageContent struct {
	Data     string
	MimeType string
	AltText  string
}

// ResourceContent references an external resource by URI.
type ResourceContent struct {
	URI      string
	MimeType string
	Metadata map[string]any
}

func (TextContent) ContentType() string     { return "text" }
func (ImageContent) ContentType() string    { return "image" }
func (ResourceContent) ContentType() string { return "resource" }

func (TextContent) isContent()     {}
func (ImageContent) isContent()    {}
func (ResourceContent) isContent() {}

// NewTextContent returns a text content item.
func NewTextContent(text string) *TextContent {
	return &TextContent{Text: text}
}

// NewImageContent returns an image content item.
func NewImageContent(data, mimeType string) *ImageContent {
	return &ImageContent{Data: data, MimeType: mimeType}
}

// NewResourceContent returns a resource content item.
func NewResourceContent(uri string) *ResourceContent {
	return &ResourceContent{URI: uri}
}

func (c TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", c.Text})
}

func (c ImageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
		AltText  string `json:"altText,omitempty"`
	}{"image", c.Data, c.MimeType, c.AltText})
}

func (c ResourceContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string         `json:"type"`
		URI      string         `json:"uri"`
		MimeType string         `json:"mimeType,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{"resource", c.URI, c.MimeType, c.Metadata})
}

// wireContent is the union of all content fields as they appear on the wire.
type wireContent struct {
	Type     string         `json:"type"`
	Text     *string        `json:"text"`
	Data     *string        `json:"data"`
	MimeType string         `json:"mimeType"`
	AltText  string         `json:"altText"`
	URI      *string        `json:"uri"`
	Metadata map[string]any `json:"metadata"`
}

func decodeContent(raw json.RawMessage) (Content, error) {
	var w wireContent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case "text":
		if w.Text == nil {
			return nil, fmt.Errorf("text content missing %q", "text")
		}
		return &TextContent{Text: *w.Text}, nil
	case "image":
		if w.Data == nil || w.MimeType == "" {
			return nil, fmt.Errorf("image content requires %q and %q", "data", "mimeType")
		}
		return &ImageContent{Data: *w.Data, MimeType: w.MimeType, AltText: w.AltText}, nil
	case "resource":
		if w.URI == nil {
			return nil, fmt.Errorf("resource content missing %q", "uri")
		}
		return &ResourceContent{URI: *w.URI, MimeType: w.MimeType, Metadata: w.Metadata}, nil
	case "":
		return nil, fmt.Errorf("content missing %q", "type")
	default:
		return nil, fmt.Errorf("unknown content type %q", w.Type)
	}
}

func decodeContentList(raws []json.RawMessage) ([]Content, error) {
	out := make([]Content, 0, len(raws))
	for i, raw := range raws {
		c, err := decodeContent(raw)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
