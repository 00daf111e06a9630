package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Content is the body of a user message sent to the agent: plain text, or
// a list of blocks when images are attached.
type Content struct {
	Text   string       `json:"text,omitempty"`
	Blocks []InputBlock `json:"blocks,omitempty"`
}

// InputBlock is one block of structured user content.
type InputBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextContent returns plain text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// ImageBlock returns an inline image block.
func ImageBlock(mediaType, base64Data string) InputBlock {
	return InputBlock{
		Type:   "image",
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: base64Data},
	}
}

// Empty reports whether c has nothing to send.
func (c Content) Empty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Blocks) == 0
}

// Validate checks block shapes before anything is queued.
func (c Content) Validate() error {
	if c.Empty() {
		return errors.New("stream: empty message content")
	}
	for i, b := range c.Blocks {
		switch b.Type {
		case "text":
		case "image":
			if b.Source == nil || b.Source.Data == "" || b.Source.MediaType == "" {
				return fmt.Errorf("stream: block %d: image needs media type and data", i)
			}
		default:
			return fmt.Errorf("stream: block %d: unsupported type %q", i, b.Type)
		}
	}
	return nil
}

type userEnvelope struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// EncodeUserMessage renders c as one stream-json input line, newline
// terminated. Text alongside blocks becomes a leading text block.
func EncodeUserMessage(c Content) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var body any = c.Text
	if len(c.Blocks) > 0 {
		blocks := make([]InputBlock, 0, len(c.Blocks)+1)
		if strings.TrimSpace(c.Text) != "" {
			blocks = append(blocks, InputBlock{Type: "text", Text: c.Text})
		}
		body = append(blocks, c.Blocks...)
	}
	line, err := json.Marshal(userEnvelope{
		Type:    "user",
		Message: userMessage{Role: "user", Content: body},
	})
	if err != nil {
		return nil, fmt.Errorf("stream: encode user message: %w", err)
	}
	return append(line, '\n'), nil
}
