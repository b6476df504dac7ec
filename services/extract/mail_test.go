package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestExtractEML(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name: "plain text",
			message: `From: a@example.com
Subject: Invoice 42
Content-Type: text/plain; charset=utf-8

Please find the invoice attached.
`,
			want: "Invoice 42 Please find the invoice attached.\n",
		},
		{
			name: "encoded subject and quoted-printable body",
			message: `Subject: =?UTF-8?B?0J7RgtGH0LXRgg==?=
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

caf=C3=A9 au lait
`,
			want: "Отчет café au lait\n",
		},
		{
			name: "base64 body in windows-1251",
			message: `Subject: greeting
Content-Type: text/plain; charset=windows-1251
Content-Transfer-Encoding: base64

z/Do4uXyIPHi//I=
`,
			want: "greeting Привет свят",
		},
		{
			name: "html only",
			message: `Subject: news
Content-Type: text/html; charset=utf-8

<html><body><p>Hello&nbsp;there</p><p>second <b>para</b></p><script>alert(1)</script></body></html>
`,
			want: "news Hello there second para",
		},
		{
			name: "multipart prefers plain text",
			message: `Subject: alt
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="XX"

--XX
Content-Type: text/plain; charset=utf-8

plain version
--XX
Content-Type: text/html; charset=utf-8

<p>html version</p>
--XX--
`,
			want: "alt plain version",
		},
		{
			name: "nested multipart skips attachments",
			message: `Subject: nested
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="OUTER"

--OUTER
Content-Type: multipart/alternative; boundary="INNER"

--INNER
Content-Type: text/html; charset=utf-8

<div>only html here</div>
--INNER--
--OUTER
Content-Type: application/pdf
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--OUTER--
`,
			want: "nested only html here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)
			path := writeFile(t, "message.eml", crlf(tt.message))

			text, err := (&mailMessageStrategy{}).Extract(context.Background(), path)
			assert.NoError(err)
			assert.Equal(strings.ReplaceAll(tt.want, "\n", "\r\n"), text)
		})
	}
}

func TestExtractEMLRejectsGarbage(t *testing.T) {
	assert := require.New(t)
	path := writeFile(t, "garbage.eml", []byte("no headers at all"))

	_, err := (&mailMessageStrategy{}).Extract(context.Background(), path)
	assert.Equal(CorruptDocument, KindOf(err))
}

func utf16le(t *testing.T, s string) []byte {
	t.Helper()
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return encoded
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name    string
		streams func(t *testing.T) map[string][]byte
		want    string
	}{
		{
			name: "unicode properties",
			streams: func(t *testing.T) map[string][]byte {
				return map[string][]byte{
					msgSubjectUnicode: utf16le(t, "Среща"),
					msgBodyUnicode:    utf16le(t, "Утре в 10ч.\x00"),
				}
			},
			want: "Среща Утре в 10ч.",
		},
		{
			name: "ansi properties",
			streams: func(t *testing.T) map[string][]byte {
				return map[string][]byte{
					msgSubjectANSI: []byte("Caf\xe9 menu"),
					msgBodyANSI:    []byte("Price \x80 5"),
				}
			},
			want: "Café menu Price € 5",
		},
		{
			name: "unicode wins over ansi",
			streams: func(t *testing.T) map[string][]byte {
				return map[string][]byte{
					msgSubjectUnicode: utf16le(t, "unicode"),
					msgSubjectANSI:    []byte("ansi"),
				}
			},
			want: "unicode ",
		},
		{
			name:    "no properties",
			streams: func(t *testing.T) map[string][]byte { return map[string][]byte{} },
			want:    " ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tt.want, messageText(tt.streams(t)))
		})
	}
}

func TestExtractMSGRejectsNonCompoundFile(t *testing.T) {
	assert := require.New(t)
	path := writeFile(t, "mail.msg", []byte("this is not an OLE compound file"))

	_, err := (&mailMessageStrategy{}).Extract(context.Background(), path)
	assert.Equal(CorruptDocument, KindOf(err))
}
