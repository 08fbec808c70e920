package protocol

import "strings"

// UserInfo describes a message sender or action target on a platform.
// UserID is always a string, even on platforms that use numeric IDs.
// The sentinel "Console" bypasses all permission checks.
type UserInfo struct {
	Platform string   `json:"platform"`
	UserID   string   `json:"user_id"`
	Nickname string   `json:"nickname,omitempty"`
	Cardname string   `json:"cardname,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// ConsoleUser is the user ID that bypasses all permission checks.
const ConsoleUser = "Console"

// GroupInfo describes the group a message belongs to.
// A nil *GroupInfo on an event means a private chat.
type GroupInfo struct {
	Platform    string `json:"platform"`
	GroupID     string `json:"group_id"`
	Name        string `json:"name,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
}

// ShareType enumerates the share segment variants.
type ShareType string

const (
	ShareWebsite  ShareType = "website"
	ShareMusic    ShareType = "music"
	ShareVideo    ShareType = "video"
	ShareLocation ShareType = "location"
)

// Segment is one element of a message: a tagged union of rich content
// variants. Data holds the variant-specific fields.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Text creates a plain text segment.
func Text(content string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": content}}
}

// Image creates an image segment. Width and height are optional (0 = unset).
func Image(url string, width, height int) Segment {
	data := map[string]any{"url": url}
	if width > 0 {
		data["width"] = width
	}
	if height > 0 {
		data["height"] = height
	}
	return Segment{Type: "image", Data: data}
}

// At creates a mention segment targeting a user.
func At(userID string) Segment {
	return Segment{Type: "at", Data: map[string]any{"user_id": userID}}
}

// Face creates a platform emoji segment.
func Face(id string) Segment {
	return Segment{Type: "face", Data: map[string]any{"id": id}}
}

// Audio creates an audio segment. record marks a short voice recording,
// which some platforms require for audio delivery.
func Audio(url string, record bool) Segment {
	return Segment{Type: "audio", Data: map[string]any{"url": url, "record": record}}
}

// Video creates a video segment.
func Video(url string) Segment {
	return Segment{Type: "video", Data: map[string]any{"url": url}}
}

// Share creates a share segment of the given variant. extra carries the
// variant-specific fields (url, title, audio, lat, lon, ...).
func Share(kind ShareType, extra map[string]any) Segment {
	data := map[string]any{"share_type": string(kind)}
	for k, v := range extra {
		data[k] = v
	}
	return Segment{Type: "share", Data: data}
}

// TextContent returns the text of a text segment, or "" for other types.
func (s Segment) TextContent() string {
	if s.Type != "text" {
		return ""
	}
	if t, ok := s.Data["text"].(string); ok {
		return t
	}
	return ""
}

// Chain is an ordered sequence of message segments.
type Chain []Segment

// TextChain creates a chain holding a single text segment.
func TextChain(content string) Chain {
	return Chain{Text(content)}
}

// AddText appends a text segment.
func (c *Chain) AddText(content string) *Chain {
	*c = append(*c, Text(content))
	return c
}

// AddImage appends an image segment.
func (c *Chain) AddImage(url string, width, height int) *Chain {
	*c = append(*c, Image(url, width, height))
	return c
}

// AddAt appends a mention segment.
func (c *Chain) AddAt(userID string) *Chain {
	*c = append(*c, At(userID))
	return c
}

// AddFace appends an emoji segment.
func (c *Chain) AddFace(id string) *Chain {
	*c = append(*c, Face(id))
	return c
}

// Append adds arbitrary segments to the chain.
func (c *Chain) Append(segs ...Segment) *Chain {
	*c = append(*c, segs...)
	return c
}

// PlainText concatenates the text segments only, trimmed of
// leading and trailing whitespace.
func (c Chain) PlainText() string {
	var b strings.Builder
	for _, seg := range c {
		b.WriteString(seg.TextContent())
	}
	return strings.TrimSpace(b.String())
}
