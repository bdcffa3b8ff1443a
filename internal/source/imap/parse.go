package imap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mailbundle/internal/source"
)

// rawFromBuffer converts fetched message data into a RawMessage. header
// holds the raw correlation header fields, if fetched.
func rawFromBuffer(buf *imapclient.FetchMessageBuffer, header []byte) source.RawMessage {
	raw := source.RawMessage{
		UID:        uint32(buf.UID),
		ModSeq:     buf.ModSeq,
		Size:       buf.RFC822Size,
		ReceivedAt: buf.InternalDate,
	}

	for _, flag := range buf.Flags {
		raw.Flags = append(raw.Flags, string(flag))
	}

	if env := buf.Envelope; env != nil {
		raw.MessageID = trimMsgID(env.MessageID)
		raw.Subject = env.Subject
		raw.SentAt = env.Date

		if len(env.From) > 0 {
			raw.FromName = env.From[0].Name
			raw.FromAddress = strings.ToLower(env.From[0].Addr())
		}
		if len(env.Sender) > 0 {
			raw.SenderAddress = strings.ToLower(env.Sender[0].Addr())
		}
	}
	if raw.SenderAddress == "" {
		raw.SenderAddress = raw.FromAddress
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = raw.SentAt
	}

	raw.ThreadID = threadID(header, raw.MessageID, raw.UID)
	return raw
}

// threadID derives a conversation id: the root of References, else the
// first In-Reply-To, else the message's own Message-ID.
func threadID(header []byte, messageID string, uid uint32) string {
	if len(header) > 0 {
		th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header)))
		if err == nil {
			h := mail.Header{Header: message.Header{Header: th}}
			if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
				return refs[0]
			}
			if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
				return parents[0]
			}
			if id, err := h.MessageID(); err == nil && id != "" && messageID == "" {
				messageID = id
			}
		}
	}
	if messageID != "" {
		return messageID
	}
	return fmt.Sprintf("uid-%d", uid)
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// parseMIMEBody parses a raw RFC 5322 message and extracts the text/plain
// and text/html bodies. Attachments are skipped.
func parseMIMEBody(raw []byte) (textBody string, htmlBody string) {
	if len(raw) == 0 {
		return "", ""
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}
