// Package onebot implements the OneBot V11 adapter: JSON event frames
// in, {action, params, echo} frames out.
package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/projectcoral/coral/internal/adapter"
	"github.com/projectcoral/coral/pkg/protocol"
)

// ProtocolName binds this adapter to its drivers.
const ProtocolName = "OneBotV11"

// Adapter translates OneBot V11 payloads to and from the typed event
// model. One adapter may carry several connected bots, keyed by self ID.
type Adapter struct {
	mu      sync.RWMutex
	senders map[string]adapter.Sender
	config  map[string]any
}

// New creates a OneBot V11 adapter. cfg is the adapter's config
// section, may be nil.
func New(cfg map[string]any) *Adapter {
	return &Adapter{
		senders: make(map[string]adapter.Sender),
		config:  cfg,
	}
}

func (a *Adapter) Protocol() string { return ProtocolName }

// BindSender attaches a connected transport under its self ID.
func (a *Adapter) BindSender(s adapter.Sender) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.senders[s.SelfID()] = s
}

// UnbindSender detaches a transport on disconnect.
func (a *Adapter) UnbindSender(selfID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.senders, selfID)
}

func (a *Adapter) sender(selfID string) (adapter.Sender, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.senders[selfID]; ok {
		return s, nil
	}
	// Fall back to the only connection when the request does not name one.
	if len(a.senders) == 1 {
		for _, s := range a.senders {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no connected bot for self_id %q", selfID)
}

// HandleIncoming decodes one OneBot event frame.
func (a *Adapter) HandleIncoming(ctx context.Context, raw []byte) (protocol.Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode onebot payload: %w", err)
	}

	switch payload["post_type"] {
	case "message":
		return a.decodeMessage(payload)
	case "notice":
		return a.decodeNotice(payload), nil
	case "meta_event":
		if payload["meta_event_type"] == "lifecycle" && payload["sub_type"] == "connect" {
			return &adapter.ConnectSignal{
				Platform: ProtocolName,
				SelfID:   stringifyID(payload["self_id"]),
			}, nil
		}
		// Heartbeats and other meta events carry nothing actionable.
		return nil, nil
	default:
		slog.Debug("unhandled onebot post_type", "post_type", payload["post_type"])
		return nil, nil
	}
}

func (a *Adapter) decodeMessage(payload map[string]any) (protocol.Event, error) {
	selfID := stringifyID(payload["self_id"])
	userID := stringifyID(payload["user_id"])

	user := &protocol.UserInfo{Platform: ProtocolName, UserID: userID}
	if sender, ok := payload["sender"].(map[string]any); ok {
		user.Nickname, _ = sender["nickname"].(string)
		user.Cardname, _ = sender["card"].(string)
	}

	var group *protocol.GroupInfo
	if payload["message_type"] == "group" {
		group = &protocol.GroupInfo{
			Platform: ProtocolName,
			GroupID:  stringifyID(payload["group_id"]),
		}
	}

	rawSegments, ok := payload["message"].([]any)
	if !ok {
		return nil, fmt.Errorf("onebot message without segment array")
	}
	chain := make(protocol.Chain, 0, len(rawSegments))
	for _, item := range rawSegments {
		seg, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if decoded, keep := decodeSegment(seg); keep {
			chain = append(chain, decoded)
		}
	}

	return &protocol.MessageEvent{
		Platform: ProtocolName,
		SelfID:   selfID,
		EventID:  stringifyID(payload["message_id"]),
		Message:  chain,
		User:     user,
		Group:    group,
		Time:     floatOr(payload["time"], protocol.Now()),
		Raw:      payload,
	}, nil
}

func (a *Adapter) decodeNotice(payload map[string]any) protocol.Event {
	noticeType, _ := payload["notice_type"].(string)
	ev := &protocol.NoticeEvent{
		Platform: ProtocolName,
		SelfID:   stringifyID(payload["self_id"]),
		Type:     protocol.NoticeType(noticeType),
		Time:     floatOr(payload["time"], protocol.Now()),
		Raw:      payload,
	}
	if uid := stringifyID(payload["user_id"]); uid != "" {
		ev.User = &protocol.UserInfo{Platform: ProtocolName, UserID: uid}
	}
	if gid := stringifyID(payload["group_id"]); gid != "" {
		ev.Group = &protocol.GroupInfo{Platform: ProtocolName, GroupID: gid}
	}
	if oid := stringifyID(payload["operator_id"]); oid != "" {
		ev.Operator = &protocol.UserInfo{Platform: ProtocolName, UserID: oid}
	}
	if tid := stringifyID(payload["target_id"]); tid != "" {
		ev.Target = &protocol.UserInfo{Platform: ProtocolName, UserID: tid}
	}
	return ev
}

// decodeSegment maps one inbound wire segment to the typed model.
func decodeSegment(seg map[string]any) (protocol.Segment, bool) {
	data, _ := seg["data"].(map[string]any)
	switch seg["type"] {
	case "text":
		text, _ := data["text"].(string)
		return protocol.Text(text), true
	case "image":
		url, _ := data["url"].(string)
		return protocol.Image(url, 0, 0), true
	case "at":
		return protocol.At(stringifyID(data["qq"])), true
	case "face":
		return protocol.Face(stringifyID(data["id"])), true
	case "record":
		url, _ := data["url"].(string)
		return protocol.Audio(url, true), true
	case "video":
		url, _ := data["url"].(string)
		return protocol.Video(url), true
	case "share":
		return protocol.Share(protocol.ShareWebsite, data), true
	case "location":
		return protocol.Share(protocol.ShareLocation, data), true
	case "music":
		if data["type"] == "custom" {
			slog.Warn("dropping custom music segment, not representable")
			return protocol.Segment{}, false
		}
		return protocol.Share(protocol.ShareMusic, data), true
	default:
		slog.Debug("dropping unknown onebot segment", "type", seg["type"])
		return protocol.Segment{}, false
	}
}

// encodeSegment maps one typed segment to the wire. keep=false drops
// the segment with a warning already logged.
func encodeSegment(seg protocol.Segment) (map[string]any, bool) {
	switch seg.Type {
	case "text":
		return wireSegment("text", map[string]any{"text": seg.TextContent()}), true
	case "image":
		return wireSegment("image", map[string]any{"url": seg.Data["url"]}), true
	case "at":
		return wireSegment("at", map[string]any{"qq": seg.Data["user_id"]}), true
	case "face":
		return wireSegment("face", map[string]any{"id": seg.Data["id"]}), true
	case "audio":
		if record, _ := seg.Data["record"].(bool); !record {
			slog.Warn("dropping non-record audio segment, platform only accepts voice recordings")
			return nil, false
		}
		return wireSegment("record", map[string]any{"url": seg.Data["url"]}), true
	case "video":
		return wireSegment("video", map[string]any{"url": seg.Data["url"]}), true
	case "share":
		data := make(map[string]any, len(seg.Data))
		for k, v := range seg.Data {
			if k != "share_type" {
				data[k] = v
			}
		}
		switch protocol.ShareType(stringifyID(seg.Data["share_type"])) {
		case protocol.ShareMusic:
			return wireSegment("music", data), true
		case protocol.ShareLocation:
			return wireSegment("location", data), true
		default:
			return wireSegment("share", data), true
		}
	default:
		slog.Warn("dropping unencodable segment", "type", seg.Type)
		return nil, false
	}
}

func wireSegment(typ string, data map[string]any) map[string]any {
	return map[string]any{"type": typ, "data": data}
}

// HandleOutgoingMessage encodes and sends one message request.
func (a *Adapter) HandleOutgoingMessage(ctx context.Context, req *protocol.MessageRequest) (*protocol.BotResponse, error) {
	s, err := a.sender(req.SelfID)
	if err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}

	chain := req.Message
	if req.AtSender && req.User != nil {
		chain = append(protocol.Chain{protocol.At(req.User.UserID)}, chain...)
	}

	message := make([]any, 0, len(chain))
	for _, seg := range chain {
		if encoded, keep := encodeSegment(seg); keep {
			message = append(message, encoded)
		}
	}
	if len(message) == 0 {
		return protocol.Failed(ProtocolName, req.SelfID, "no sendable segments"), nil
	}

	params := map[string]any{"message": message}
	switch {
	case req.Group != nil:
		params["message_type"] = "group"
		params["group_id"] = req.Group.GroupID
	case req.User != nil:
		params["message_type"] = "private"
		params["user_id"] = req.User.UserID
	default:
		return protocol.Failed(ProtocolName, req.SelfID, "message request has no target"), nil
	}

	if err := s.SendAction(ctx, string(protocol.ActionSendMsg), params, uuid.NewString()); err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}

	if req.RecallDuration > 0 {
		slog.Debug("recall requested", "after_seconds", req.RecallDuration, "event_id", req.EventID)
	}

	return &protocol.BotResponse{
		Success:  true,
		Platform: ProtocolName,
		SelfID:   req.SelfID,
		EventID:  req.EventID,
		Time:     protocol.Now(),
	}, nil
}

// HandleOutgoingAction encodes and sends one raw platform action.
func (a *Adapter) HandleOutgoingAction(ctx context.Context, req *protocol.ActionRequest) (*protocol.BotResponse, error) {
	s, err := a.sender(req.SelfID)
	if err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}

	params := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		params[k] = v
	}
	if req.User != nil {
		params["user_id"] = req.User.UserID
	}
	if req.Group != nil {
		params["group_id"] = req.Group.GroupID
	}

	if err := s.SendAction(ctx, string(req.Type), params, uuid.NewString()); err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}

	return &protocol.BotResponse{
		Success:  true,
		Platform: ProtocolName,
		SelfID:   req.SelfID,
		Time:     protocol.Now(),
	}, nil
}

// stringifyID renders numeric or string platform IDs as strings. JSON
// numbers arrive as float64; integral values must not grow a decimal
// point.
func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

func floatOr(v any, fallback float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return fallback
}
