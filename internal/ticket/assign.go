package ticket

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/mixelka/mailticket/internal/mailbox"
)

// AssignmentError means a ticket could not be derived for a message. The
// message is left untouched in the inbox and retried on the next pass.
type AssignmentError struct {
	UID uint32
	Err error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("cannot assign ticket for uid %d: %v", e.UID, e.Err)
}

func (e *AssignmentError) Unwrap() error { return e.Err }

// Assignment is the result of ticketing a new conversation.
type Assignment struct {
	TicketID          uint32
	Subject           string // rewritten subject
	OriginalMessageID string // conversation root, may be empty
	NewMessageID      string // minted for the rewritten copy
	Raw               []byte // rewritten message, ready to append
}

// Assign derives the ticket for a new conversation and builds the rewritten
// copy. The ticket id is the message's inbox UID. The copy keeps every header
// the original carried except: Subject gets the ticket marker, a fresh
// Message-ID is minted, To becomes the account, and Reply-To,
// X-Original-Sender and References/In-Reply-To are set so replies to the copy
// still thread back to the original conversation. Body bytes pass through
// untouched.
func Assign(h *mailbox.Headers, raw []byte, account string) (*Assignment, error) {
	if h.UID == 0 {
		return nil, &AssignmentError{UID: 0, Err: fmt.Errorf("no mailbox identifier")}
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, &AssignmentError{UID: h.UID, Err: fmt.Errorf("malformed header: %w", err)}
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, &AssignmentError{UID: h.UID, Err: err}
	}

	mh := mail.Header{Header: message.Header{Header: th}}

	subject := RenderSubject(h.UID, h.Subject)
	mh.SetSubject(subject)
	if err := mh.GenerateMessageID(); err != nil {
		return nil, &AssignmentError{UID: h.UID, Err: err}
	}
	newID, err := mh.MessageID()
	if err != nil {
		return nil, &AssignmentError{UID: h.UID, Err: err}
	}
	mh.SetAddressList("To", []*mail.Address{{Address: account}})
	if h.FromAddr != "" {
		mh.SetAddressList("Reply-To", []*mail.Address{{Address: h.FromAddr}})
		mh.Set("X-Original-Sender", h.FromAddr)
	}
	if h.MessageID != "" {
		mh.SetMsgIDList("In-Reply-To", []string{h.MessageID})
		mh.SetMsgIDList("References", []string{h.MessageID})
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, mh.Header.Header); err != nil {
		return nil, &AssignmentError{UID: h.UID, Err: err}
	}
	buf.Write(body)

	return &Assignment{
		TicketID:          h.UID,
		Subject:           subject,
		OriginalMessageID: h.MessageID,
		NewMessageID:      newID,
		Raw:               buf.Bytes(),
	}, nil
}
