package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMessagePlainText(t *testing.T) {
	msg, err := ParseMessage("1", []byte(sampleMail), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "Your verification code", msg.Subject)
	require.Equal(t, "no-reply@bytebank.example", msg.FromAddress)
	require.Equal(t, "ByteBank", msg.FromName)
	require.Contains(t, msg.TextBody, "Your code is 482913")
	require.Empty(t, msg.HTMLBody)
}

func TestParseMessageMultipart(t *testing.T) {
	raw := "From: alerts@acme.example\r\n" +
		"Subject: Sign-in code\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=b0\r\n" +
		"\r\n" +
		"--b0\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Code: 112358\r\n" +
		"--b0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Code: <b>112358</b></p>\r\n" +
		"--b0--\r\n"

	received := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	msg, err := ParseMessage("9", []byte(raw), received)
	require.NoError(t, err)
	require.Equal(t, "Sign-in code", msg.Subject)
	require.Contains(t, msg.TextBody, "Code: 112358")
	require.Contains(t, msg.HTMLBody, "<b>112358</b>")
	require.Equal(t, received, msg.ReceivedAt)
}

func TestParseMessageEncodedSubject(t *testing.T) {
	raw := "From: x@y.example\r\n" +
		"Subject: =?utf-8?q?C=C3=B3digo_de_verificaci=C3=B3n?=\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"771028\r\n"
	msg, err := ParseMessage("2", []byte(raw), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "Código de verificación", msg.Subject)
}

func TestParseMessageMalformedFallsBack(t *testing.T) {
	raw := []byte("not really an rfc822 message, code 445566")
	msg, err := ParseMessage("3", raw, time.Time{})
	require.NoError(t, err)
	require.Contains(t, msg.TextBody, "445566")
}

func TestParseMessageEmpty(t *testing.T) {
	_, err := ParseMessage("4", nil, time.Time{})
	require.Error(t, err)
}
