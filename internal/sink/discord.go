package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// messageSender is the slice of the Discord session the sink needs.
type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts alerts to a Discord channel.
type DiscordSink struct {
	session   messageSender
	channelID string
	closer    func() error
}

// NewDiscordSink opens a Discord session with the given bot token.
func NewDiscordSink(token, channelID string) (*DiscordSink, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("discord open: %w", err)
	}
	return &DiscordSink{session: dg, channelID: channelID, closer: dg.Close}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Notify(ctx context.Context, a Alert) error {
	msg := fmt.Sprintf("🔔 **%s** heard at %s (%s)\n> %s",
		strings.Join(a.Keywords, ", "),
		a.At.Format("15:04:05"),
		a.Strategy,
		a.Text,
	)
	_, err := s.session.ChannelMessageSend(s.channelID, msg)
	return err
}

// Close shuts the underlying Discord session.
func (s *DiscordSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
