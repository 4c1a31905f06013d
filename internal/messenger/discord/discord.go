// Package discord adapts the Discord API (via discordgo) to the core's
// messenger.Port, and normalizes inbound Discord messages into submissions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/dimakhov/voxnote/internal/messenger"
)

// PlatformName is the namespace this adapter registers submissions and queue
// entries under.
const PlatformName = "discord"

// Adapter implements messenger.Port on a discordgo session.
type Adapter struct {
	session *discordgo.Session
}

// Compile-time interface assertion.
var _ messenger.Port = (*Adapter)(nil)

// New wraps an already-opened discordgo session.
func New(session *discordgo.Session) *Adapter {
	return &Adapter{session: session}
}

// SendMessage implements messenger.Port.
func (a *Adapter) SendMessage(ctx context.Context, chatID, text string, opts messenger.SendOptions) (messenger.MessageRef, error) {
	send := &discordgo.MessageSend{
		Content:    text,
		Components: buildComponents(opts.Actions),
	}
	if !opts.ReplyTo.IsZero() {
		send.Reference = &discordgo.MessageReference{
			ChannelID: opts.ReplyTo.ChatID,
			MessageID: opts.ReplyTo.MessageID,
		}
	}
	msg, err := a.session.ChannelMessageSendComplex(chatID, send, discordgo.WithContext(ctx))
	if err != nil {
		return messenger.MessageRef{}, fmt.Errorf("discord: send message: %w", classify(err))
	}
	return ref(msg), nil
}

// EditMessage implements messenger.Port.
func (a *Adapter) EditMessage(ctx context.Context, r messenger.MessageRef, text string, opts messenger.SendOptions) error {
	edit := discordgo.NewMessageEdit(r.ChatID, r.MessageID)
	edit.SetContent(text)
	if opts.Actions != nil {
		comps := buildComponents(opts.Actions)
		edit.Components = &comps
	}
	if _, err := a.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit message: %w", classify(err))
	}
	return nil
}

// DeleteMessage implements messenger.Port.
func (a *Adapter) DeleteMessage(ctx context.Context, r messenger.MessageRef) error {
	err := a.session.ChannelMessageDelete(r.ChatID, r.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		if errors.Is(classify(err), messenger.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// SendDocument implements messenger.Port.
func (a *Adapter) SendDocument(ctx context.Context, chatID, filename string, payload []byte, caption string, opts messenger.SendOptions) (messenger.MessageRef, error) {
	send := &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:   filename,
			Reader: strings.NewReader(string(payload)),
		}},
		Components: buildComponents(opts.Actions),
	}
	msg, err := a.session.ChannelMessageSendComplex(chatID, send, discordgo.WithContext(ctx))
	if err != nil {
		return messenger.MessageRef{}, fmt.Errorf("discord: send document: %w", classify(err))
	}
	return ref(msg), nil
}

// Normalize converts an inbound Discord message into zero or one Submission.
// Messages without a media attachment or a recognizable media URL produce
// nil.
func Normalize(m *discordgo.MessageCreate) *messenger.Submission {
	base := messenger.Submission{
		Platform: PlatformName,
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		UserMessage: messenger.MessageRef{
			Platform:  PlatformName,
			ChatID:    m.ChannelID,
			MessageID: m.ID,
		},
	}

	for _, att := range m.Attachments {
		kind, ok := kindFromContentType(att.ContentType, att.Filename)
		if !ok {
			continue
		}
		sub := base
		sub.Kind = kind
		sub.FileURL = att.URL
		sub.SourceRef = att.ID
		sub.FileName = att.Filename
		return &sub
	}

	if url := firstMediaURL(m.Content); url != "" {
		sub := base
		sub.Kind = messenger.SourceURL
		sub.FileURL = url
		sub.SourceRef = url
		return &sub
	}
	return nil
}

func kindFromContentType(contentType, filename string) (messenger.SourceKind, bool) {
	switch {
	case strings.HasPrefix(contentType, "audio/"):
		// Discord flags short in-app recordings as voice messages.
		if strings.HasSuffix(filename, "voice-message.ogg") {
			return messenger.SourceVoice, true
		}
		return messenger.SourceDocument, true
	case strings.HasPrefix(contentType, "video/"):
		return messenger.SourceVideo, true
	default:
		return "", false
	}
}

func firstMediaURL(content string) string {
	for _, field := range strings.Fields(content) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}

// classify maps discordgo REST errors onto the port's sentinel errors.
func classify(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return messenger.ErrNotFound
		}
	}
	return err
}

func ref(msg *discordgo.Message) messenger.MessageRef {
	return messenger.MessageRef{
		Platform:  PlatformName,
		ChatID:    msg.ChannelID,
		MessageID: msg.ID,
	}
}

// buildComponents renders action identifiers as a single row of buttons.
func buildComponents(actions []string) []discordgo.MessageComponent {
	if len(actions) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, id := range actions {
		row.Components = append(row.Components, discordgo.Button{
			Label:    labelFor(id),
			Style:    discordgo.SecondaryButton,
			CustomID: id,
		})
	}
	return []discordgo.MessageComponent{row}
}

func labelFor(id string) string {
	switch id {
	case "cancel_queue":
		return "Cancel"
	case "generate_summary":
		return "Generate summary"
	default:
		slog.Debug("no label for action id, using raw id", "action", id)
		return id
	}
}
