// Package gmail polls the agent's mailbox for unread messages and hands
// them to the pipeline as plain text. Delivery is at-least-once: a message
// stays unread until the pipeline fully processes it, so redelivery is
// expected and handled downstream.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/samfawaz/mailcal/internal/extractor"
)

const user = "me"

type Source struct {
	service     *gmail.Service
	query       string
	maxMessages int64
	logger      *slog.Logger
}

func NewSource(ctx context.Context, httpClient *http.Client, query string, maxMessages int, logger *slog.Logger) (*Source, error) {
	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Source{
		service:     service,
		query:       query,
		maxMessages: int64(maxMessages),
		logger:      logger,
	}, nil
}

// Poll lists messages matching the configured query and fetches their
// bodies. A message that fails to fetch is logged and skipped; the next
// poll sees it again.
func (s *Source) Poll(ctx context.Context) ([]extractor.Message, error) {
	listed, err := s.service.Users.Messages.List(user).
		Q(s.query).
		MaxResults(s.maxMessages).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var out []extractor.Message
	for _, ref := range listed.Messages {
		msg, err := s.fetch(ctx, ref.Id)
		if err != nil {
			s.logger.Warn("failed to fetch message", "message_id", ref.Id, "error", err)
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (s *Source) fetch(ctx context.Context, id string) (*extractor.Message, error) {
	full, err := s.service.Users.Messages.Get(user, id).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	msg := &extractor.Message{
		ID:       full.Id,
		ThreadID: full.ThreadId,
	}
	for _, h := range full.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = senderAddress(h.Value)
		case "cc":
			for _, addr := range strings.Split(h.Value, ",") {
				if trimmed := strings.TrimSpace(senderAddress(addr)); trimmed != "" {
					msg.CC = append(msg.CC, trimmed)
				}
			}
		}
	}
	msg.Body = bodyText(full.Payload)
	if msg.Body == "" {
		msg.Body = full.Snippet
	}
	return msg, nil
}

// MarkRead removes the UNREAD label after the pipeline committed the
// message as processed.
func (s *Source) MarkRead(ctx context.Context, id string) error {
	_, err := s.service.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// bodyText walks the MIME tree collecting text/plain parts, depth first.
func bodyText(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			// Some senders omit padding.
			decoded, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
			if err != nil {
				return ""
			}
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if text := bodyText(child); text != "" {
			return text
		}
	}
	return ""
}

// senderAddress strips a display name from a From header
// ("Alice <alice@example.com>" yields "alice@example.com").
func senderAddress(from string) string {
	if i := strings.Index(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return strings.TrimSpace(from[i+1 : i+j])
		}
	}
	return strings.TrimSpace(from)
}
