// ABOUTME: Built-in bot commands: ping, gallery searches, help, forget and stats
// ABOUTME: Gallery searches skip items already shown in the room and remember what they post

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// maxCandidates bounds how many unseen items one search tries before giving
// up, so a room full of dead links cannot keep a command busy for long.
const maxCandidates = 5

var (
	// ErrNoImage is returned when every search result was already shown.
	ErrNoImage = errors.New("no image found")
	// ErrUsage is returned when a command was called with bad arguments.
	ErrUsage = errors.New("bad usage")
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, inv *invocation) error
}

// invocation is one command call.
type invocation struct {
	msg    Message
	args   []string
	logger *slog.Logger
}

func (b *Bot) registerCommands(aliases map[string][]string) {
	b.commands = make(map[string]*command)
	add := func(c *command) { b.commands[c.name] = c }

	add(&command{name: "ping", usage: "measure reply latency", run: b.ping})
	add(&command{name: "pr0", usage: "`pr0 <tags...>` random image for the tags", run: b.search})
	add(&command{name: "help", usage: "list commands", run: b.help})
	add(&command{name: "forget", usage: "forget which images this room has seen", run: b.forget})
	add(&command{name: "stats", usage: "show dedupe cache statistics", run: b.stats})

	for name, tags := range aliases {
		if _, builtin := b.commands[name]; builtin {
			continue
		}
		add(&command{
			name:  name,
			usage: "random image for " + strings.Join(tags, " "),
			run: func(ctx context.Context, inv *invocation) error {
				return b.fetch(ctx, inv, tags)
			},
		})
	}
}

// ping answers and then edits in the round-trip time of that answer.
func (b *Bot) ping(ctx context.Context, inv *invocation) error {
	start := time.Now()
	msgID, err := b.reply(ctx, inv, "Pong!")
	if err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	latency := time.Since(start)

	text := fmt.Sprintf("Pong! Latency: %.3f ms", float64(latency.Microseconds())/1000)
	if err := b.messenger.Edit(ctx, inv.msg.Room, msgID, text); err != nil {
		return fmt.Errorf("latency reply failed: %w", err)
	}
	return nil
}

// search handles the free-form tag command.
func (b *Bot) search(ctx context.Context, inv *invocation) error {
	if len(inv.args) == 0 {
		if _, err := b.reply(ctx, inv, "Usage: `"+b.prefix+"pr0 <tags...>`"); err != nil {
			return fmt.Errorf("failed to reply: %w", err)
		}
		return fmt.Errorf("%w: pr0 needs at least one tag", ErrUsage)
	}
	return b.fetch(ctx, inv, inv.args)
}

// fetch posts a random image for tags that this room has not seen yet.
func (b *Bot) fetch(ctx context.Context, inv *invocation, tags []string) error {
	msgID, err := b.reply(ctx, inv, fmt.Sprintf("Searching for %s...", tags[0]))
	if err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}

	items, err := b.gallery.Search(ctx, tags)
	if err != nil {
		b.editOrLog(ctx, inv, msgID, "Search failed, try again later.")
		return fmt.Errorf("gallery fetch failed: %w", err)
	}

	scope := ScopeKey(inv.msg.Room)
	candidates := make([]int, 0, len(items))
	for i, item := range items {
		seen := b.cache.Contains(scope, item.ID)
		b.observer.RecordCacheLookup(seen)
		if !seen {
			candidates = append(candidates, i)
		}
	}

	for tries := 0; tries < maxCandidates && len(candidates) > 0; tries++ {
		n := b.pick(len(candidates))
		item := items[candidates[n]]
		candidates = append(candidates[:n], candidates[n+1:]...)

		url := b.gallery.MediaURL(item)
		if b.checkAlive && !b.gallery.Alive(ctx, url) {
			inv.logger.Warn("skipping dead media", "item", item.ID, "url", url)
			b.remember(scope, item.ID)
			continue
		}

		inv.logger.Info("Posting "+item.Image, "item", item.ID)
		if err := b.messenger.Edit(ctx, inv.msg.Room, msgID, inv.msg.Mention+": "+url); err != nil {
			return fmt.Errorf("failed to reply: %w", err)
		}
		b.remember(scope, item.ID)
		return nil
	}

	b.editOrLog(ctx, inv, msgID, fmt.Sprintf("No new image found for %s.", strings.Join(tags, " ")))
	return fmt.Errorf("%w for %q", ErrNoImage, strings.Join(tags, " "))
}

// remember records an item as shown in scope.
func (b *Bot) remember(scope, id uint64) {
	if _, evicted := b.cache.Insert(scope, id); evicted {
		b.observer.RecordEviction()
	}
}

func (b *Bot) help(ctx context.Context, inv *invocation) error {
	var sb strings.Builder
	sb.WriteString("**Commands**\n\n")
	for _, name := range b.Commands() {
		fmt.Fprintf(&sb, "- `%s%s`: %s\n", b.prefix, name, b.commands[name].usage)
	}
	if _, err := b.reply(ctx, inv, sb.String()); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	return nil
}

func (b *Bot) forget(ctx context.Context, inv *invocation) error {
	scope := ScopeKey(inv.msg.Room)
	n := b.cache.Clear(scope)
	inv.logger.Info("cleared room history", "entries", n)

	if _, err := b.reply(ctx, inv, fmt.Sprintf("Forgot %d images for this room.", n)); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	return nil
}

func (b *Bot) stats(ctx context.Context, inv *invocation) error {
	scope := ScopeKey(inv.msg.Room)
	text := fmt.Sprintf("Remembering %d/%d images in this room, %d across %d rooms.",
		b.cache.Len(scope), b.cache.Capacity(), b.cache.TotalEntries(), b.cache.Scopes())
	if _, err := b.reply(ctx, inv, text); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	return nil
}

// editOrLog replaces a status message; failures are only logged because the
// command already has a more relevant error to report.
func (b *Bot) editOrLog(ctx context.Context, inv *invocation, msgID, text string) {
	if err := b.messenger.Edit(ctx, inv.msg.Room, msgID, text); err != nil {
		inv.logger.Warn("failed to edit reply", "error", err)
	}
}

// outcomeFor labels a command error for metrics.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNoImage):
		return "empty"
	case errors.Is(err, ErrUsage):
		return "usage"
	default:
		return "error"
	}
}
