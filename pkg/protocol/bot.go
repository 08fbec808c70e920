package protocol

import "context"

// Outbound is the adapter surface a Bot needs to deliver messages and
// actions. Implemented by platform adapters.
type Outbound interface {
	HandleOutgoingMessage(ctx context.Context, req *MessageRequest) (*BotResponse, error)
	HandleOutgoingAction(ctx context.Context, req *ActionRequest) (*BotResponse, error)
}

// Bot is a per-connection identity on a platform, keyed by SelfID.
type Bot struct {
	Platform string
	SelfID   string
	Adapter  Outbound
	Config   map[string]any
}

// NewBot creates a bot bound to an adapter.
func NewBot(platform, selfID string, adapter Outbound, config map[string]any) *Bot {
	return &Bot{Platform: platform, SelfID: selfID, Adapter: adapter, Config: config}
}

// ToUser starts a fluent send targeting a user.
func (b *Bot) ToUser(userID string) *MessageSender {
	return &MessageSender{
		bot:  b,
		user: &UserInfo{Platform: b.Platform, UserID: userID},
	}
}

// ToGroup starts a fluent send targeting a group.
func (b *Bot) ToGroup(groupID string) *MessageSender {
	return &MessageSender{
		bot:   b,
		group: &GroupInfo{Platform: b.Platform, GroupID: groupID},
	}
}

// SendMessage delivers a chain to a user or group directly.
func (b *Bot) SendMessage(ctx context.Context, message Chain, user *UserInfo, group *GroupInfo) (*BotResponse, error) {
	if b.Adapter == nil {
		return nil, nil
	}
	return b.Adapter.HandleOutgoingMessage(ctx, &MessageRequest{
		Platform: b.Platform,
		SelfID:   b.SelfID,
		Message:  message,
		User:     user,
		Group:    group,
		Time:     Now(),
	})
}

// SendAction delivers a platform action.
func (b *Bot) SendAction(ctx context.Context, typ ActionType, user *UserInfo, group *GroupInfo, data map[string]any) (*BotResponse, error) {
	if b.Adapter == nil {
		return nil, nil
	}
	return b.Adapter.HandleOutgoingAction(ctx, &ActionRequest{
		Platform: b.Platform,
		SelfID:   b.SelfID,
		Type:     typ,
		User:     user,
		Group:    group,
		Data:     data,
		Time:     Now(),
	})
}

// MessageSender builds and sends a message fluently.
type MessageSender struct {
	bot            *Bot
	user           *UserInfo
	group          *GroupInfo
	atSender       bool
	recallDuration int
}

// AtSender mentions the receiver in the sent message.
func (s *MessageSender) AtSender() *MessageSender {
	s.atSender = true
	return s
}

// RecallAfter recalls the sent message after the given seconds.
func (s *MessageSender) RecallAfter(seconds int) *MessageSender {
	s.recallDuration = seconds
	return s
}

// Send delivers the chain through the bot's adapter.
func (s *MessageSender) Send(ctx context.Context, message Chain) (*BotResponse, error) {
	if s.bot.Adapter == nil {
		return nil, nil
	}
	return s.bot.Adapter.HandleOutgoingMessage(ctx, &MessageRequest{
		Platform:       s.bot.Platform,
		SelfID:         s.bot.SelfID,
		Message:        message,
		User:           s.user,
		Group:          s.group,
		AtSender:       s.atSender,
		RecallDuration: s.recallDuration,
		Time:           Now(),
	})
}

// SendText delivers a single text segment.
func (s *MessageSender) SendText(ctx context.Context, text string) (*BotResponse, error) {
	return s.Send(ctx, TextChain(text))
}
