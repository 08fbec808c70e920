package protocol

// MessageRequest is an outbound-intent message. It is also an event:
// published on the bus, it is routed to the owning platform adapter.
type MessageRequest struct {
	Platform       string     `json:"platform"`
	EventID        string     `json:"event_id"`
	SelfID         string     `json:"self_id"`
	Message        Chain      `json:"message"`
	User           *UserInfo  `json:"user,omitempty"`
	Group          *GroupInfo `json:"group,omitempty"`
	AtSender       bool       `json:"at_sender"`
	RecallDuration int        `json:"recall_duration,omitempty"`
	Time           float64    `json:"time"`
}

func (r *MessageRequest) EventPlatform() string { return r.Platform }
func (r *MessageRequest) EventSelfID() string   { return r.SelfID }

// ActionRequest is an outbound platform action (kick, ban, recall, ...).
type ActionRequest struct {
	Platform string         `json:"platform"`
	SelfID   string         `json:"self_id"`
	Type     ActionType     `json:"type"`
	User     *UserInfo      `json:"user,omitempty"`
	Group    *GroupInfo     `json:"group,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Delay    float64        `json:"delay,omitempty"`
	Time     float64        `json:"time"`
}

func (r *ActionRequest) EventPlatform() string { return r.Platform }
func (r *ActionRequest) EventSelfID() string   { return r.SelfID }

// BotResponse reports the outcome of an outbound message or action.
type BotResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	EventID  string         `json:"event_id,omitempty"`
	Platform string         `json:"platform"`
	SelfID   string         `json:"self_id"`
	Time     float64        `json:"time"`
}

func (r *BotResponse) EventPlatform() string { return r.Platform }
func (r *BotResponse) EventSelfID() string   { return r.SelfID }

// Failed builds an unsuccessful BotResponse with a reason.
func Failed(platform, selfID, reason string) *BotResponse {
	return &BotResponse{
		Success:  false,
		Message:  reason,
		Platform: platform,
		SelfID:   selfID,
		Time:     Now(),
	}
}

// MessageRequestBuilder assembles a MessageRequest fluently.
type MessageRequestBuilder struct {
	req MessageRequest
}

// NewMessageRequest starts a builder, optionally seeded from an event:
// platform, self_id, event_id, user and group are inherited when present.
func NewMessageRequest(ev Event) *MessageRequestBuilder {
	b := &MessageRequestBuilder{}
	if ev == nil {
		return b
	}
	b.req.Platform = ev.EventPlatform()
	b.req.SelfID = ev.EventSelfID()
	switch e := ev.(type) {
	case *MessageEvent:
		b.req.EventID = e.EventID
		b.req.User = e.User
		b.req.Group = e.Group
	case *CommandEvent:
		b.req.EventID = e.EventID
		b.req.User = e.User
		b.req.Group = e.Group
	case *NoticeEvent:
		b.req.EventID = e.EventID
		b.req.User = e.User
		b.req.Group = e.Group
	}
	return b
}

// Platform overrides the target platform.
func (b *MessageRequestBuilder) Platform(platform string) *MessageRequestBuilder {
	b.req.Platform = platform
	return b
}

// Text appends a text segment.
func (b *MessageRequestBuilder) Text(content string) *MessageRequestBuilder {
	b.req.Message = append(b.req.Message, Text(content))
	return b
}

// Image appends an image segment.
func (b *MessageRequestBuilder) Image(url string, width, height int) *MessageRequestBuilder {
	b.req.Message = append(b.req.Message, Image(url, width, height))
	return b
}

// At appends a mention segment.
func (b *MessageRequestBuilder) At(userID string) *MessageRequestBuilder {
	b.req.Message = append(b.req.Message, At(userID))
	return b
}

// Chain replaces the message chain.
func (b *MessageRequestBuilder) Chain(chain Chain) *MessageRequestBuilder {
	b.req.Message = chain
	return b
}

// ToUser sets the receiving user.
func (b *MessageRequestBuilder) ToUser(user *UserInfo) *MessageRequestBuilder {
	b.req.User = user
	return b
}

// ToGroup sets the receiving group.
func (b *MessageRequestBuilder) ToGroup(group *GroupInfo) *MessageRequestBuilder {
	b.req.Group = group
	return b
}

// AtSender makes the message mention the original sender.
func (b *MessageRequestBuilder) AtSender() *MessageRequestBuilder {
	b.req.AtSender = true
	return b
}

// RecallAfter sets the auto-recall delay in seconds.
func (b *MessageRequestBuilder) RecallAfter(seconds int) *MessageRequestBuilder {
	b.req.RecallDuration = seconds
	return b
}

// Build finalizes the request.
func (b *MessageRequestBuilder) Build() *MessageRequest {
	req := b.req
	req.Time = Now()
	return &req
}
