// ABOUTME: Chat command dispatcher for the gallery bot
// ABOUTME: Parses prefixed commands and routes them to handlers sharing one dedupe cache

package bot

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/2389/ciri/internal/dedupe"
	"github.com/2389/ciri/internal/gallery"
	"github.com/2389/ciri/internal/metrics"
)

// commandTimeout bounds a single command, including all network calls.
const commandTimeout = 60 * time.Second

// DefaultPrefix starts every command unless configured otherwise.
const DefaultPrefix = "."

// DefaultAliases are the fixed tag searches the bot always knows.
var DefaultAliases = map[string][]string{
	"kadse":      {"kadse", "süßvieh"},
	"waschkadse": {"müllpanda", "awww"},
	"otten":      {"otten", "awww"},
	"ente":       {"ente", "gut", "alles", "gut"},
}

// Message is an incoming chat message, already stripped of transport details.
type Message struct {
	Room    string // room the message came from; defines the dedupe scope
	Sender  string // sender id, for logs
	Mention string // how to address the sender in a reply (Markdown)
	Body    string
}

// Messenger sends replies. Bodies are Markdown.
type Messenger interface {
	Send(ctx context.Context, room, markdown string) (msgID string, err error)
	Edit(ctx context.Context, room, msgID, markdown string) error
}

// Gallery finds images.
type Gallery interface {
	Search(ctx context.Context, tags []string) ([]gallery.Item, error)
	MediaURL(item gallery.Item) string
	Alive(ctx context.Context, rawURL string) bool
}

// Options configures a Bot.
type Options struct {
	Prefix     string
	Aliases    map[string][]string // merged over DefaultAliases
	CheckAlive bool
	Logger     *slog.Logger
	Observer   metrics.CommandObserver
}

// Bot dispatches chat commands.
type Bot struct {
	cache      *dedupe.Cache
	gallery    Gallery
	messenger  Messenger
	logger     *slog.Logger
	observer   metrics.CommandObserver
	prefix     string
	checkAlive bool
	commands   map[string]*command

	// pick returns a random index in [0, n).
	pick func(n int) int
}

// New creates a bot. The cache is shared with the saver; the bot never
// touches storage itself.
func New(cache *dedupe.Cache, g Gallery, m Messenger, opts Options) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}

	b := &Bot{
		cache:      cache,
		gallery:    g,
		messenger:  m,
		logger:     opts.Logger.With("component", "bot"),
		observer:   opts.Observer,
		prefix:     opts.Prefix,
		checkAlive: opts.CheckAlive,
		pick:       rand.IntN,
	}
	b.registerCommands(mergeAliases(DefaultAliases, opts.Aliases))
	return b
}

// ScopeKey maps a room id to its dedupe scope.
func ScopeKey(room string) uint64 {
	return xxhash.Sum64String(room)
}

// Parse splits a message body into command name and arguments. It reports
// false when the body does not start with the prefix.
func (b *Bot) Parse(body string) (name string, args []string, ok bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, b.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(body, b.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch runs the command in msg, if any, and reports whether one ran.
// It blocks until the command finishes; callers run it in its own goroutine.
func (b *Bot) Dispatch(ctx context.Context, msg Message) bool {
	name, args, ok := b.Parse(msg.Body)
	if !ok {
		return false
	}
	cmd, ok := b.commands[name]
	if !ok {
		b.logger.Debug("unknown command", "command", name, "room", msg.Room)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	logger := b.logger.With("cmd_id", uuid.New().String(), "command", cmd.name, "room", msg.Room)
	logger.Info("CMD " + msg.Sender + ": " + msg.Body)

	inv := &invocation{msg: msg, args: args, logger: logger}
	outcome := "ok"
	if err := cmd.run(ctx, inv); err != nil {
		outcome = outcomeFor(err)
		logger.Error("command failed", "error", err)
	}
	b.observer.RecordCommand(cmd.name, outcome)
	return true
}

// Commands returns the registered command names, sorted.
func (b *Bot) Commands() []string {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reply sends a new message in the invocation's room.
func (b *Bot) reply(ctx context.Context, inv *invocation, markdown string) (string, error) {
	return b.messenger.Send(ctx, inv.msg.Room, markdown)
}

// mergeAliases overlays extra on base without modifying either.
func mergeAliases(base, extra map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base)+len(extra))
	for name, tags := range base {
		out[name] = tags
	}
	for name, tags := range extra {
		if len(tags) == 0 {
			continue
		}
		out[strings.ToLower(name)] = tags
	}
	return out
}
