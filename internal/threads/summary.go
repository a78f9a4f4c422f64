package threads

import (
	"sort"
	"strings"
	"time"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
)

// MatchTier names the strategy that first produced a conversation.
type MatchTier string

const (
	TierLinkage      MatchTier = "linkage"
	TierSubjectTag   MatchTier = "subject_tag"
	TierFreeText     MatchTier = "free_text"
	TierVendorDomain MatchTier = "vendor_domain"
)

// ThreadSummary is one email conversation attributed to an entity. Built
// fresh on each attribution call; never persisted.
type ThreadSummary struct {
	ConversationID string    `json:"conversation_id"`
	Subject        string    `json:"subject"`
	Participants   []string  `json:"participants"`
	MessageCount   int       `json:"message_count"`
	LastMessageAt  time.Time `json:"last_message_at"`
	Preview        string    `json:"preview"`
	NeedsResponse  bool      `json:"needs_response"`
	MatchedVia     MatchTier `json:"matched_via"`
}

// buildSummary condenses one conversation's messages into a summary.
// Messages where the sender and every recipient are internal are noise
// and dropped first; a conversation with no surviving messages yields no
// summary at all.
func (e *Engine) buildSummary(convID string, msgs []graph.Message, tier MatchTier) (ThreadSummary, bool) {
	var surviving []graph.Message
	for _, m := range msgs {
		if e.isInternalOnly(m) {
			continue
		}
		surviving = append(surviving, m)
	}
	if len(surviving) == 0 {
		return ThreadSummary{}, false
	}

	last := surviving[0]
	for _, m := range surviving[1:] {
		// Zero timestamps sort as oldest, so any real timestamp wins.
		if m.Received.After(last.Received) {
			last = m
		}
	}

	participants := make(map[string]bool)
	for _, m := range surviving {
		for _, addr := range append([]string{m.From}, m.Recipients()...) {
			if addr == "" || e.isInternalAddr(addr) {
				continue
			}
			participants[strings.ToLower(addr)] = true
		}
	}

	addrs := make([]string, 0, len(participants))
	for a := range participants {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	return ThreadSummary{
		ConversationID: convID,
		Subject:        e.Tagger.Strip(last.Subject),
		Participants:   addrs,
		MessageCount:   len(surviving),
		LastMessageAt:  last.Received,
		Preview:        last.Preview,
		NeedsResponse:  e.needsResponse(last),
		MatchedVia:     tier,
	}, true
}

// needsResponse is true when the conversation's latest message came from
// outside and has sat unanswered for at least the SLA window. A message
// with no parseable timestamp is conservatively flagged.
func (e *Engine) needsResponse(last graph.Message) bool {
	if last.From == "" || e.isInternalAddr(last.From) {
		return false
	}
	if last.Received.IsZero() {
		return true
	}
	return e.clock().Sub(last.Received) >= e.SLAWindow
}

// isInternalOnly reports whether the message is internal-to-internal
// noise: internal sender and no external recipient.
func (e *Engine) isInternalOnly(m graph.Message) bool {
	if m.From != "" && !e.isInternalAddr(m.From) {
		return false
	}
	for _, addr := range m.Recipients() {
		if !e.isInternalAddr(addr) {
			return false
		}
	}
	return true
}

func (e *Engine) isInternalAddr(addr string) bool {
	return e.isInternalDomain(graph.Domain(addr))
}

func (e *Engine) isInternalDomain(domain string) bool {
	for _, d := range e.InternalDomains {
		if d == domain {
			return true
		}
	}
	return false
}

func (e *Engine) isGenericDomain(domain string) bool {
	for _, d := range e.GenericDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// sortSummaries orders by most recent message, newest first; zero
// timestamps land at the end.
func sortSummaries(list []ThreadSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
