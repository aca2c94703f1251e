// ABOUTME: Sends and edits Matrix messages for the bot
// ABOUTME: Markdown bodies are rendered to HTML with goldmark

package matrix

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Messenger implements bot.Messenger on a Matrix client.
type Messenger struct {
	client *mautrix.Client
}

// NewMessenger creates a Messenger. The client must be logged in before the
// first Send.
func NewMessenger(client *mautrix.Client) *Messenger {
	return &Messenger{client: client}
}

// Send posts markdown to room and returns the new event id.
func (m *Messenger) Send(ctx context.Context, room, markdown string) (string, error) {
	content, err := render(markdown)
	if err != nil {
		return "", err
	}
	resp, err := m.client.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return resp.EventID.String(), nil
}

// Edit replaces the text of an earlier message sent by the bot.
func (m *Messenger) Edit(ctx context.Context, room, msgID, markdown string) error {
	content, err := render(markdown)
	if err != nil {
		return err
	}
	content.SetEdit(id.EventID(msgID))
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, content); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

// render builds a text message with both the Markdown source and its HTML.
func render(markdown string) (*event.MessageEventContent, error) {
	var html bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &html); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    markdown,
	}
	formatted := strings.TrimSpace(html.String())
	// Plain paragraphs need no HTML.
	if formatted != "<p>"+markdown+"</p>" {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}
	return content, nil
}
