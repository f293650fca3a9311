package chat

import (
	"fmt"
	"net/url"
)

// ValidationError reports the first offending element of a message sequence
// with a path into the structure (e.g. "[2].role").
type ValidationError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at '%s': %s", e.Path, e.Reason)
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ValidateMessages checks a full message sequence against the message
// schema. It is applied whenever history is bulk-replaced from an external
// or serialized source.
func ValidateMessages(messages []Message) error {
	for i, msg := range messages {
		if err := validateMessage(fmt.Sprintf("[%d]", i), msg); err != nil {
			return err
		}
	}
	return nil
}

func validateMessage(path string, msg Message) error {
	if !msg.Role.Valid() {
		return invalid(path+".role", "unknown role %q", string(msg.Role))
	}

	if msg.Content == nil && msg.ToolCalls == nil && msg.Refusal == nil && msg.FileAttachments == nil {
		return invalid(path, "one of content, tool_calls, refusal or file_attachments is required")
	}

	if msg.Content != nil {
		for j, part := range msg.Content.Parts {
			if err := validatePart(fmt.Sprintf("%s.content[%d]", path, j), part); err != nil {
				return err
			}
		}
	}

	for j, call := range msg.ToolCalls {
		if err := validateToolCall(fmt.Sprintf("%s.tool_calls[%d]", path, j), call); err != nil {
			return err
		}
	}

	for j, att := range msg.FileAttachments {
		if err := validateAttachment(fmt.Sprintf("%s.file_attachments[%d]", path, j), att); err != nil {
			return err
		}
	}

	return nil
}

func validatePart(path string, part ContentPart) error {
	switch part.Type {
	case PartTypeText:
		return nil
	case PartTypeImageURL:
		if part.ImageURL == nil {
			return invalid(path+".image_url", "image_url is required")
		}
		if !wellFormedURI(part.ImageURL.URL) {
			return invalid(path+".image_url.url", "malformed URI %q", part.ImageURL.URL)
		}
		return nil
	default:
		return invalid(path+".type", "unknown part type %q", part.Type)
	}
}

func validateToolCall(path string, call ToolCall) error {
	if call.ID == "" {
		return invalid(path+".id", "id is required")
	}
	if call.Type != "function" {
		return invalid(path+".type", "type must be \"function\", got %q", call.Type)
	}
	if call.Function.Name == "" {
		return invalid(path+".function.name", "name is required")
	}
	return nil
}

func validateAttachment(path string, att FileAttachment) error {
	if att.ID == "" {
		return invalid(path+".id", "id is required")
	}
	if att.Name == "" {
		return invalid(path+".name", "name is required")
	}
	if att.MimeType == "" {
		return invalid(path+".mime_type", "mime_type is required")
	}
	if att.Size < 0 {
		return invalid(path+".size", "size must not be negative")
	}
	if att.URL != "" && !wellFormedURI(att.URL) {
		return invalid(path+".url", "malformed URI %q", att.URL)
	}
	return nil
}

// wellFormedURI accepts absolute URIs, including base64 data URIs.
func wellFormedURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != ""
}
