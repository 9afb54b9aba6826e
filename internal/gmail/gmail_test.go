package gmail

import (
	"encoding/base64"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestBodyText_PlainPart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: b64("meeting tomorrow at 3pm")},
	}
	if got := bodyText(payload); got != "meeting tomorrow at 3pm" {
		t.Errorf("got %q", got)
	}
}

func TestBodyText_MultipartPrefersPlain(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: b64("<p>ignored</p>")},
			},
			{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: b64("plain wins")},
			},
		},
	}
	if got := bodyText(payload); got != "plain wins" {
		t.Errorf("got %q", got)
	}
}

func TestBodyText_NestedMultipart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "text/plain",
						Body:     &gmail.MessagePartBody{Data: b64("nested body")},
					},
				},
			},
		},
	}
	if got := bodyText(payload); got != "nested body" {
		t.Errorf("got %q", got)
	}
}

func TestSenderAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Alice Smith <alice@example.com>", "alice@example.com"},
		{"bob@example.com", "bob@example.com"},
		{"  carol@example.com  ", "carol@example.com"},
		{`"Dan, Jr." <dan@example.com>`, "dan@example.com"},
	}
	for _, tc := range cases {
		if got := senderAddress(tc.in); got != tc.want {
			t.Errorf("senderAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
