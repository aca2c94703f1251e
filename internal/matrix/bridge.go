// ABOUTME: Matrix connection for ciri
// ABOUTME: Logs in, syncs, joins invited rooms and hands command messages to the bot

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/ciri/internal/bot"
	"github.com/2389/ciri/internal/config"
)

const (
	// typingTimeout is how long a typing notification lasts unless cleared.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds small Matrix API calls.
	networkTimeout = 10 * time.Second
	// deviceName is shown in the user's session list after a password login.
	deviceName = "ciri"
)

// Dispatcher runs chat commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg bot.Message) bool
}

// Bridge connects a Matrix account to the bot.
type Bridge struct {
	matrixCfg config.MatrixConfig
	botCfg    config.BotConfig
	client    *mautrix.Client
	logger    *slog.Logger
}

// NewBridge creates a Matrix client for cfg. It does not contact the
// homeserver; call Login before Run.
func NewBridge(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		matrixCfg: cfg.Matrix,
		botCfg:    cfg.Bot,
		client:    client,
		logger:    logger.With("component", "matrix"),
	}, nil
}

// Client returns the underlying Matrix client.
func (b *Bridge) Client() *mautrix.Client {
	return b.client
}

// UserID returns the logged-in user, empty before Login.
func (b *Bridge) UserID() string {
	return b.client.UserID.String()
}

// Messenger returns a bot.Messenger that posts through this bridge.
func (b *Bridge) Messenger() *Messenger {
	return NewMessenger(b.client)
}

// Login authenticates with the password from the config, or verifies the
// configured access token and learns its device id.
func (b *Bridge) Login(ctx context.Context) error {
	if b.matrixCfg.AccessToken != "" {
		resp, err := b.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		b.client.UserID = resp.UserID
		b.client.DeviceID = resp.DeviceID
		b.logger.Info("using access token", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return nil
	}

	resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.matrixCfg.Username,
		},
		Password:                 b.matrixCfg.Password,
		InitialDeviceDisplayName: deviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run syncs with the homeserver and dispatches commands until ctx is
// cancelled. Each command runs in its own goroutine so a slow gallery search
// never stalls the sync loop.
func (b *Bridge) Run(ctx context.Context, d Dispatcher) error {
	b.logger.Info("starting matrix sync",
		"homeserver", b.matrixCfg.Homeserver,
		"user_id", b.client.UserID,
	)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	// Commands sent while the bot was offline are not replayed.
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, d, evt)
	})
	if b.matrixCfg.AutoJoin {
		syncer.OnEventType(event.StateMember, b.handleMemberEvent)
	}

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix sync")
		b.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent turns a text message into a bot.Message.
func (b *Bridge) handleMessageEvent(ctx context.Context, d Dispatcher, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	// Edits of earlier messages are not new commands.
	if content.NewContent != nil {
		return
	}

	roomID := evt.RoomID.String()
	if !isRoomAllowed(b.botCfg.AllowedRooms, roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(content.Body), b.botCfg.CommandPrefix) {
		return
	}

	b.logger.Debug("received command",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(content.Body, 50),
	)

	msg := bot.Message{
		Room:    roomID,
		Sender:  evt.Sender.String(),
		Mention: mention(evt.Sender),
		Body:    content.Body,
	}
	go b.processMessage(ctx, d, evt.RoomID, msg)
}

func (b *Bridge) processMessage(ctx context.Context, d Dispatcher, roomID id.RoomID, msg bot.Message) {
	if b.botCfg.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}
	d.Dispatch(ctx, msg)
}

// handleMemberEvent accepts invites addressed to the bot.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.client.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}

	roomID := evt.RoomID.String()
	if !isRoomAllowed(b.botCfg.AllowedRooms, roomID) {
		b.logger.Info("ignoring invite to non-allowed room", "room", roomID, "inviter", evt.Sender)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", roomID, "error", err)
		return
	}
	b.logger.Info("joined room", "room", roomID, "inviter", evt.Sender)

	if name := b.matrixCfg.DisplayName; name != "" {
		b.setRoomDisplayName(ctx, evt.RoomID, name)
	}
}

// setRoomDisplayName overrides the bot's name in one room by rewriting its
// own membership event.
func (b *Bridge) setRoomDisplayName(ctx context.Context, roomID id.RoomID, name string) {
	content := &event.MemberEventContent{
		Membership:  event.MembershipJoin,
		Displayname: name,
	}
	if _, err := b.client.SendStateEvent(ctx, roomID, event.StateMember, b.client.UserID.String(), content); err != nil {
		b.logger.Warn("failed to set room display name", "room", roomID.String(), "name", name, "error", err)
		return
	}
	b.logger.Debug("set room display name", "room", roomID.String(), "name", name)
}

// setTyping sends a typing notification to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Not tied to the sync context so the indicator is still cleared during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// isRoomAllowed reports whether roomID passes the allow list. An empty list
// allows every room.
func isRoomAllowed(allowed []string, roomID string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, roomID)
}

// mention renders a Markdown link that Matrix clients show as a user pill.
func mention(userID id.UserID) string {
	name, _, err := userID.Parse()
	if err != nil || name == "" {
		name = userID.String()
	}
	return fmt.Sprintf("[%s](https://matrix.to/#/%s)", name, userID)
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
