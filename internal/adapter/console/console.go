// Package console implements the local console adapter: stdin lines
// become command events, outbound messages print as plain text.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/projectcoral/coral/internal/adapter"
	"github.com/projectcoral/coral/pkg/protocol"
)

// ProtocolName binds this adapter to the console driver.
const ProtocolName = "Console"

// Adapter turns console input lines into command events and writes
// replies back as plain text.
type Adapter struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string
}

// New creates a console adapter writing replies to out. A nil out
// defaults to stdout.
func New(selfID string, out io.Writer) *Adapter {
	if out == nil {
		out = os.Stdout
	}
	return &Adapter{out: out, selfID: selfID}
}

func (a *Adapter) Protocol() string { return ProtocolName }

// BindSender is a no-op: the console has no transport to write through.
func (a *Adapter) BindSender(adapter.Sender) {}

// UnbindSender is a no-op.
func (a *Adapter) UnbindSender(string) {}

// HandleIncoming parses one input line as "<command> <args...>". Empty
// lines produce no event.
func (a *Adapter) HandleIncoming(ctx context.Context, raw []byte) (protocol.Event, error) {
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return nil, nil
	}
	return &protocol.CommandEvent{
		Platform: ProtocolName,
		SelfID:   a.selfID,
		EventID:  uuid.NewString(),
		Command:  fields[0],
		Args:     fields[1:],
		User:     &protocol.UserInfo{Platform: ProtocolName, UserID: protocol.ConsoleUser},
		Time:     protocol.Now(),
	}, nil
}

// HandleOutgoingMessage prints the plain text of the message.
func (a *Adapter) HandleOutgoingMessage(ctx context.Context, req *protocol.MessageRequest) (*protocol.BotResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintln(a.out, req.Message.PlainText()); err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}
	return &protocol.BotResponse{
		Success:  true,
		Platform: ProtocolName,
		SelfID:   req.SelfID,
		EventID:  req.EventID,
		Time:     protocol.Now(),
	}, nil
}

// HandleOutgoingAction prints the action for inspection; the console
// has no platform to execute it against.
func (a *Adapter) HandleOutgoingAction(ctx context.Context, req *protocol.ActionRequest) (*protocol.BotResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintf(a.out, "[action] %s %v\n", req.Type, req.Data); err != nil {
		return protocol.Failed(ProtocolName, req.SelfID, err.Error()), nil
	}
	return &protocol.BotResponse{
		Success:  true,
		Platform: ProtocolName,
		SelfID:   req.SelfID,
		Time:     protocol.Now(),
	}, nil
}
