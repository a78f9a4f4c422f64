package graph

import (
	"strings"
	"time"
)

// Message is the normalized shape of one mailbox message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Cc             []string  `json:"cc"`
	Bcc            []string  `json:"bcc"`
	Preview        string    `json:"preview"`
	Received       time.Time `json:"received"` // zero when the provider timestamp was absent or unparseable
	HasAttachments bool      `json:"has_attachments"`
}

// Attachment describes one attachment of a message.
type Attachment struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
}

// Recipients returns every recipient address of the message.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// Domain extracts the lowercased domain portion of an email address.
// Returns "" when the address has no @.
func Domain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(strings.Trim(addr[at+1:], ">")))
}

// wire types for the provider's JSON envelope

type wireAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type wireRecipient struct {
	EmailAddress wireAddress `json:"emailAddress"`
}

type wireMessage struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversationId"`
	Subject          string          `json:"subject"`
	From             *wireRecipient  `json:"from"`
	ToRecipients     []wireRecipient `json:"toRecipients"`
	CcRecipients     []wireRecipient `json:"ccRecipients"`
	BccRecipients    []wireRecipient `json:"bccRecipients"`
	BodyPreview      string          `json:"bodyPreview"`
	ReceivedDateTime string          `json:"receivedDateTime"`
	HasAttachments   bool            `json:"hasAttachments"`
}

type messagePage struct {
	Value     []wireMessage `json:"value"`
	NextLink  string        `json:"@odata.nextLink"`
	DeltaLink string        `json:"@odata.deltaLink"`
}

type attachmentPage struct {
	Value []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func normalize(w wireMessage) Message {
	m := Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		Subject:        w.Subject,
		To:             extractAddresses(w.ToRecipients),
		Cc:             extractAddresses(w.CcRecipients),
		Bcc:            extractAddresses(w.BccRecipients),
		Preview:        w.BodyPreview,
		HasAttachments: w.HasAttachments,
	}

	if w.From != nil {
		m.From = w.From.EmailAddress.Address
	}

	if w.ReceivedDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, w.ReceivedDateTime); err == nil {
			m.Received = ts
		}
	}

	return m
}

// extractAddresses pulls plain addresses out of recipient wrappers.
func extractAddresses(recipients []wireRecipient) []string {
	var addrs []string
	for _, r := range recipients {
		if r.EmailAddress.Address != "" {
			addrs = append(addrs, r.EmailAddress.Address)
		}
	}
	return addrs
}
