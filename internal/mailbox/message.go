package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

const defaultBodyLimit = 128 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

var wordDecoder = &mime.WordDecoder{}

// ParseMessage parses a raw RFC822 payload into the reduced Message the
// extraction pipeline works on. Parsing is best-effort: a message whose
// MIME structure cannot be walked still yields subject/from headers and the
// raw payload as the text body, so a sloppy provider cannot hide a code.
func ParseMessage(id string, raw []byte, received time.Time) (*Message, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty message payload")
	}

	msg := &Message{ID: id, ReceivedAt: received}

	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Header-only fallback.
		if entity, entityErr := gomessage.Read(bytes.NewReader(raw)); entityErr == nil {
			msg.Subject = decodeHeader(entity.Header.Get("Subject"))
			msg.FromAddress, msg.FromName = parseFrom(entity.Header.Get("From"))
		}
		msg.TextBody = truncateBytes(raw)
		return msg, nil
	}
	defer reader.Close()

	header := reader.Header
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = decodeHeader(header.Get("Subject"))
	}
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		msg.FromAddress = strings.TrimSpace(list[0].Address)
		msg.FromName = strings.TrimSpace(list[0].Name)
	} else {
		msg.FromAddress, msg.FromName = parseFrom(header.Get("From"))
	}
	if msg.ReceivedAt.IsZero() {
		if date, err := header.Date(); err == nil {
			msg.ReceivedAt = date
		}
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mimeType, _, ctErr := inline.ContentType()
		if ctErr != nil {
			mimeType = "text/plain"
		}
		mimeType = strings.ToLower(strings.TrimSpace(mimeType))
		body, readErr := io.ReadAll(io.LimitReader(part.Body, defaultBodyLimit))
		if readErr != nil || len(body) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(mimeType, "text/plain"):
			if msg.TextBody == "" {
				msg.TextBody = string(body)
			}
		case strings.HasPrefix(mimeType, "text/html"):
			if msg.HTMLBody == "" {
				msg.HTMLBody = string(body)
			}
		default:
			if msg.TextBody == "" && msg.HTMLBody == "" {
				msg.TextBody = string(body)
			}
		}
	}

	if msg.TextBody == "" && msg.HTMLBody == "" {
		msg.TextBody = truncateBytes(raw)
	}
	return msg, nil
}

func decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
		return decoded
	}
	return value
}

func parseFrom(value string) (address, name string) {
	value = decodeHeader(value)
	if value == "" {
		return "", ""
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address), strings.TrimSpace(addr.Name)
	}
	return strings.TrimSpace(value), ""
}

func truncateBytes(raw []byte) string {
	if int64(len(raw)) > defaultBodyLimit {
		raw = raw[:defaultBodyLimit]
	}
	return string(raw)
}

// buildRemoteID names a message for diagnostics without exposing content.
func buildRemoteID(account Account, uid string) string {
	if account.Username == "" {
		return fmt.Sprintf("%s:%s", account.Host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", account.Username, account.Host, uid)
}
