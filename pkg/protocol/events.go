package protocol

import "time"

// Event is the common surface of everything published on the bus.
type Event interface {
	EventPlatform() string
	EventSelfID() string
}

// Now returns the current time as seconds since epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// MessageEvent is a message sent by a user.
type MessageEvent struct {
	Platform string         `json:"platform"`
	SelfID   string         `json:"self_id"`
	EventID  string         `json:"event_id"`
	Message  Chain          `json:"message"`
	User     *UserInfo      `json:"user"`
	Group    *GroupInfo     `json:"group,omitempty"`
	Time     float64        `json:"time"`
	Raw      map[string]any `json:"raw,omitempty"`
}

func (e *MessageEvent) EventPlatform() string { return e.Platform }
func (e *MessageEvent) EventSelfID() string   { return e.SelfID }

// IsPrivate reports whether the message came from a private chat.
func (e *MessageEvent) IsPrivate() bool { return e.Group == nil }

// IsGroup reports whether the message came from a group chat.
func (e *MessageEvent) IsGroup() bool { return e.Group != nil }

// ToMe reports whether any at segment targets the bot itself.
func (e *MessageEvent) ToMe() bool {
	for _, seg := range e.Message {
		if seg.Type != "at" {
			continue
		}
		if uid, ok := seg.Data["user_id"].(string); ok && uid == e.SelfID {
			return true
		}
	}
	return false
}

// ReplyOption adjusts a reply built from an event.
type ReplyOption func(*MessageRequest)

// AtSender makes the reply mention the original sender.
func AtSender() ReplyOption {
	return func(r *MessageRequest) { r.AtSender = true }
}

// RecallAfter makes the platform recall the reply after the given
// number of seconds.
func RecallAfter(seconds int) ReplyOption {
	return func(r *MessageRequest) { r.RecallDuration = seconds }
}

// Reply constructs a MessageRequest tied to this event.
func (e *MessageEvent) Reply(body Chain, opts ...ReplyOption) *MessageRequest {
	req := &MessageRequest{
		Platform: e.Platform,
		EventID:  e.EventID,
		SelfID:   e.SelfID,
		Message:  body,
		User:     e.User,
		Group:    e.Group,
		Time:     Now(),
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// ReplyText is Reply with a single text segment.
func (e *MessageEvent) ReplyText(body string, opts ...ReplyOption) *MessageRequest {
	return e.Reply(TextChain(body), opts...)
}

// NoticeEvent is a platform system notification. Type carries the
// platform-native notice string verbatim.
type NoticeEvent struct {
	Platform string         `json:"platform"`
	SelfID   string         `json:"self_id"`
	EventID  string         `json:"event_id"`
	Type     NoticeType     `json:"type"`
	User     *UserInfo      `json:"user,omitempty"`
	Group    *GroupInfo     `json:"group,omitempty"`
	Operator *UserInfo      `json:"operator,omitempty"`
	Target   *UserInfo      `json:"target,omitempty"`
	Comment  string         `json:"comment,omitempty"`
	Time     float64        `json:"time"`
	Raw      map[string]any `json:"raw,omitempty"`
}

func (e *NoticeEvent) EventPlatform() string { return e.Platform }
func (e *NoticeEvent) EventSelfID() string   { return e.SelfID }

func (e *NoticeEvent) IsPrivate() bool { return e.Group == nil }
func (e *NoticeEvent) IsGroup() bool   { return e.Group != nil }

// ToMe reports whether the notice targets the bot itself.
func (e *NoticeEvent) ToMe() bool {
	return e.Target != nil && e.Target.UserID == e.SelfID
}

// IsOperator reports whether the acting user is the bot itself.
func (e *NoticeEvent) IsOperator() bool {
	return e.Operator != nil && e.Operator.UserID == e.SelfID
}

// CommandEvent is a command invocation, either typed on the console or
// synthesized from a chat message.
type CommandEvent struct {
	Platform   string     `json:"platform"`
	SelfID     string     `json:"self_id"`
	EventID    string     `json:"event_id"`
	Command    string     `json:"command"`
	Args       []string   `json:"args"`
	RawMessage Chain      `json:"raw_message"`
	User       *UserInfo  `json:"user"`
	Group      *GroupInfo `json:"group,omitempty"`
	Time       float64    `json:"time"`
}

func (e *CommandEvent) EventPlatform() string { return e.Platform }
func (e *CommandEvent) EventSelfID() string   { return e.SelfID }

func (e *CommandEvent) IsPrivate() bool { return e.Group == nil }
func (e *CommandEvent) IsGroup() bool   { return e.Group != nil }

// GroupID returns the group ID or "-1" for private chats.
func (e *CommandEvent) GroupID() string {
	if e.Group == nil {
		return "-1"
	}
	return e.Group.GroupID
}

// GenericEvent is an internal lifecycle event identified by name.
type GenericEvent struct {
	Platform string         `json:"platform"`
	SelfID   string         `json:"self_id"`
	Name     string         `json:"name"`
	Data     map[string]any `json:"data,omitempty"`
}

func (e *GenericEvent) EventPlatform() string { return e.Platform }
func (e *GenericEvent) EventSelfID() string   { return e.SelfID }

// Lifecycle event names published by the framework.
const (
	EventInitialized  = "coral_initialized"
	EventShutdown     = "coral_shutdown"
	EventPluginLoaded = "plugin_loaded"
)
