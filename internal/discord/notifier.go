package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Notifier posts playback status messages through a single bot
// session. Handles encode channel and message id so later edits and
// deletes need no extra lookups.
type Notifier struct {
	sess *discordgo.Session

	mu       sync.Mutex
	channels map[string]string
}

func NewNotifier(sess *discordgo.Session) *Notifier {
	return &Notifier{sess: sess, channels: make(map[string]string)}
}

// textChannel picks where status messages for a guild land: the system
// channel when set, otherwise the first text channel the bot can see.
func (n *Notifier) textChannel(chat string) (string, error) {
	n.mu.Lock()
	if ch, ok := n.channels[chat]; ok {
		n.mu.Unlock()
		return ch, nil
	}
	n.mu.Unlock()

	g, err := n.sess.State.Guild(chat)
	if err != nil {
		return "", fmt.Errorf("guild %s: %w", chat, err)
	}
	ch := g.SystemChannelID
	if ch == "" {
		for _, c := range g.Channels {
			if c.Type == discordgo.ChannelTypeGuildText {
				ch = c.ID
				break
			}
		}
	}
	if ch == "" {
		return "", fmt.Errorf("guild %s has no text channel", chat)
	}
	n.mu.Lock()
	n.channels[chat] = ch
	n.mu.Unlock()
	return ch, nil
}

func (n *Notifier) Notify(ctx context.Context, chat, content string) (string, error) {
	ch, err := n.textChannel(chat)
	if err != nil {
		return "", err
	}
	msg, err := n.sess.ChannelMessageSend(ch, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return ch + "/" + msg.ID, nil
}

func (n *Notifier) Edit(ctx context.Context, handle, content string) error {
	ch, id, err := splitHandle(handle)
	if err != nil {
		return err
	}
	_, err = n.sess.ChannelMessageEdit(ch, id, content, discordgo.WithContext(ctx))
	return err
}

func (n *Notifier) Delete(ctx context.Context, handle string) error {
	ch, id, err := splitHandle(handle)
	if err != nil {
		return err
	}
	return n.sess.ChannelMessageDelete(ch, id, discordgo.WithContext(ctx))
}

func splitHandle(handle string) (channel, message string, err error) {
	ch, id, ok := strings.Cut(handle, "/")
	if !ok || ch == "" || id == "" {
		return "", "", fmt.Errorf("malformed message handle %q", handle)
	}
	return ch, id, nil
}
