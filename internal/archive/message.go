package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"

	"github.com/caseprobe/discovery-cli/internal/headers"
)

const maxPartBytes = 32 << 20

var wordDecoder = mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(cs, input)
	},
}

func decodeWords(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// ParseMessage parses one raw RFC 5322 message into a Message. MIME
// nesting is walked with an explicit stack; attachments keep their
// decoded bytes. Only a header blob that cannot be read at all is an
// error.
func ParseMessage(raw []byte) (*Message, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "archive: read message")
	}

	m := &Message{HeadersBlob: headerBlob(raw)}
	h := parsed.Header

	m.Subject = decodeWords(h.Get("Subject"))
	m.SenderName, m.SenderEmail = parseSender(h.Get("From"))
	m.ToRecipients = parseAddressList(h.Get("To"))
	m.CcRecipients = parseAddressList(h.Get("Cc"))
	m.BccRecipients = parseAddressList(h.Get("Bcc"))
	m.Date = headers.ParseDate(h.Get("Date"))
	m.ConversationIndex = decodeThreadIndex(h.Get("Thread-Index"))
	m.MessageClass = h.Get("X-Message-Class")

	bodyBytes, err := io.ReadAll(io.LimitReader(parsed.Body, maxPartBytes))
	if err != nil {
		bodyBytes = nil
	}

	type part struct {
		header textproto.MIMEHeader
		body   []byte
	}
	stack := []part{{header: textproto.MIMEHeader(h), body: bodyBytes}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		mediaType, params, err := mime.ParseMediaType(p.header.Get("Content-Type"))
		if err != nil || mediaType == "" {
			mediaType = "text/plain"
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary == "" {
				continue
			}
			mr := multipart.NewReader(bytes.NewReader(p.body), boundary)
			var subparts []part
			for {
				sp, err := mr.NextPart()
				if err != nil {
					break
				}
				spBody, _ := io.ReadAll(io.LimitReader(sp, maxPartBytes))
				subparts = append(subparts, part{header: sp.Header, body: spBody})
			}
			// Push in reverse so parts pop in document order.
			for i := len(subparts) - 1; i >= 0; i-- {
				stack = append(stack, subparts[i])
			}
			continue
		}

		m.addLeaf(p.header, mediaType, params, p.body)
	}

	return m, nil
}

func (m *Message) addLeaf(h textproto.MIMEHeader, mediaType string, params map[string]string, body []byte) {
	disposition, dispParams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	filename = decodeWords(filename)
	contentID := strings.Trim(h.Get("Content-Id"), "<> ")

	decoded, err := decodeTransferEncoding(h.Get("Content-Transfer-Encoding"), body)
	if err != nil {
		decoded = body
	}

	isText := strings.HasPrefix(mediaType, "text/")
	if isText {
		if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") {
			if conv, err := convertCharset(decoded, cs); err == nil {
				decoded = conv
			}
		}
	}

	switch {
	case disposition == "attachment":
		m.appendAttachment(filename, mediaType, contentID, false, decoded)
	case mediaType == "application/rtf" || mediaType == "text/rtf":
		if len(m.BodyRTF) == 0 {
			m.BodyRTF = decoded
		} else {
			m.appendAttachment(filename, mediaType, contentID, disposition == "inline", decoded)
		}
	case mediaType == "text/plain" && filename == "":
		if m.BodyPlain == "" {
			m.BodyPlain = string(decoded)
		}
	case mediaType == "text/html" && filename == "":
		if m.BodyHTML == "" {
			m.BodyHTML = string(decoded)
		}
	case strings.HasPrefix(mediaType, "image/") && contentID != "":
		m.appendAttachment(filename, mediaType, contentID, true, decoded)
	case filename != "" || !isText:
		m.appendAttachment(filename, mediaType, contentID, disposition == "inline", decoded)
	}
}

func (m *Message) appendAttachment(filename, contentType, contentID string, inline bool, data []byte) {
	if filename == "" && contentID == "" && len(data) == 0 {
		return
	}
	m.Attachments = append(m.Attachments, NewAttachment(filename, contentType, contentID, inline, data))
}

func decodeTransferEncoding(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r := base64.NewDecoder(base64.StdEncoding, bytes.NewReader(bytes.Map(dropWhitespace, body)))
		return io.ReadAll(io.LimitReader(r, maxPartBytes))
	case "quoted-printable":
		r := quotedprintable.NewReader(bytes.NewReader(body))
		return io.ReadAll(io.LimitReader(r, maxPartBytes))
	default:
		return body, nil
	}
}

func dropWhitespace(r rune) rune {
	switch r {
	case '\r', '\n', ' ', '\t':
		return -1
	}
	return r
}

func convertCharset(body []byte, cs string) ([]byte, error) {
	r, err := charset.NewReaderLabel(cs, bytes.NewReader(body))
	if err != nil {
		return body, err
	}
	return io.ReadAll(io.LimitReader(r, maxPartBytes))
}

func parseSender(from string) (name, email string) {
	if from == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return decodeWords(addr.Name), addr.Address
	}
	// Sloppy producer fallback: best-effort angle bracket extraction.
	decoded := decodeWords(from)
	if i := strings.LastIndex(decoded, "<"); i >= 0 {
		if j := strings.Index(decoded[i:], ">"); j > 0 {
			return strings.TrimSpace(decoded[:i]), strings.TrimSpace(decoded[i+1 : i+j])
		}
	}
	return "", strings.TrimSpace(decoded)
}

func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}
	var out []string
	for _, tok := range strings.Split(decodeWords(value), ",") {
		tok = strings.Trim(strings.TrimSpace(tok), "<>")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// decodeThreadIndex converts a base64 Thread-Index header into the hex
// form the rest of the pipeline works with.
func decodeThreadIndex(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(data)
}

// headerBlob returns the raw header section of the message bytes.
func headerBlob(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[:i])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}
