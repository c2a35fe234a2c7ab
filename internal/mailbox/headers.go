package mailbox

import (
	"io"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Headers is the parsed header view of a mailbox message. Only the fields
// needed for classification, ticketing and reply addressing are kept.
type Headers struct {
	UID             uint32
	MessageID       string
	FromAddr        string
	FromName        string
	To              string
	ReplyTo         string
	XOriginalSender string
	Subject         string
	Date            time.Time
	InReplyTo       []string
	References      []string
}

// ParseHeaders parses an RFC 5322 header section. MIME-encoded words are
// decoded; a malformed header yields whatever fields could be read.
func ParseHeaders(uid uint32, r io.Reader) (*Headers, error) {
	entity, err := message.Read(r)
	if err != nil && (entity == nil || !message.IsUnknownCharset(err)) {
		return nil, err
	}

	mh := mail.Header{Header: entity.Header}
	h := &Headers{UID: uid}

	if subject, err := mh.Subject(); err == nil {
		h.Subject = subject
	} else {
		h.Subject = mh.Get("Subject")
	}
	if date, err := mh.Date(); err == nil {
		h.Date = date
	}
	if id, err := mh.MessageID(); err == nil {
		h.MessageID = id
	}
	if list, err := mh.AddressList("From"); err == nil && len(list) > 0 {
		h.FromAddr = list[0].Address
		h.FromName = list[0].Name
	}
	if list, err := mh.AddressList("To"); err == nil && len(list) > 0 {
		h.To = list[0].Address
	}
	if list, err := mh.AddressList("Reply-To"); err == nil && len(list) > 0 {
		h.ReplyTo = list[0].Address
	}
	h.XOriginalSender = mh.Get("X-Original-Sender")
	if ids, err := mh.MsgIDList("In-Reply-To"); err == nil {
		h.InReplyTo = ids
	}
	if ids, err := mh.MsgIDList("References"); err == nil {
		h.References = ids
	}

	return h, nil
}
