// Package threads reconstructs the email conversations relevant to an
// internal business entity with four matching tiers of increasing cost:
// recorded conversation linkage, subject-tag search, free-text
// part-number search, and vendor-domain search. Results merge by
// conversation id and are cached per caller for a short TTL.
package threads

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/tag"
)

// tierSearchCap bounds how many messages any single tier search pulls.
const tierSearchCap = 200

// MailAPI is the slice of the mailbox client the attribution engine uses.
type MailAPI interface {
	FetchAll(ctx context.Context, path string, q graph.Query, pageSizeHint, maxItems int) ([]graph.Message, error)
	ConversationMessages(ctx context.Context, userID, conversationID string) ([]graph.Message, error)
}

var _ MailAPI = (*graph.Client)(nil)

// Engine attributes mailbox conversations to requirements and vendors.
// It is read-mostly: it never writes cursors, markers, or business
// records.
type Engine struct {
	API       MailAPI
	Linkage   LinkageSource
	Directory Directory
	Cache     *ResultCache
	Tagger    *tag.Tagger

	InternalDomains []string
	GenericDomains  []string

	SLAWindow  time.Duration
	MaxDomains int

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// ThreadsForRequirement returns the conversations attributed to a
// sourcing requirement, newest first. It never fails: tier errors are
// logged and degrade to fewer results, and "nothing found" is an empty
// list.
func (e *Engine) ThreadsForRequirement(ctx context.Context, requirementID int64, callerUserID string) []ThreadSummary {
	return e.threadsForEntity(ctx, KindRequirement, requirementID, callerUserID)
}

// ThreadsForVendor returns the conversations attributed to a vendor,
// newest first.
func (e *Engine) ThreadsForVendor(ctx context.Context, vendorID int64, callerUserID string) []ThreadSummary {
	return e.threadsForEntity(ctx, KindVendor, vendorID, callerUserID)
}

// ThreadMessages returns one conversation's full history, oldest first.
func (e *Engine) ThreadMessages(ctx context.Context, userID, conversationID string) ([]graph.Message, error) {
	return e.API.ConversationMessages(ctx, userID, conversationID)
}

// conversation accumulates one merged conversation across tiers.
type conversation struct {
	msgs []graph.Message
	tier MatchTier
}

func (e *Engine) threadsForEntity(ctx context.Context, kind EntityKind, id int64, caller string) []ThreadSummary {
	key := fmt.Sprintf("%s|%s|%d", caller, kind, id)
	if cached, ok := e.Cache.Get(key); ok {
		return cached
	}

	merged := make(map[string]*conversation)
	var order []string

	// add merges one conversation's messages; the first tier to surface
	// a conversation owns it, later tiers never reprocess it.
	add := func(convID string, tier MatchTier, msgs []graph.Message) {
		if convID == "" || len(msgs) == 0 {
			return
		}
		if _, exists := merged[convID]; exists {
			return
		}
		merged[convID] = &conversation{msgs: msgs, tier: tier}
		order = append(order, convID)
	}

	e.linkageTier(ctx, kind, id, caller, add)
	e.subjectTagTier(ctx, id, caller, add)
	if kind == KindRequirement {
		e.freeTextTier(ctx, id, caller, add)
	}
	e.domainTier(ctx, kind, id, caller, add)

	summaries := make([]ThreadSummary, 0, len(order))
	for _, convID := range order {
		c := merged[convID]
		if s, ok := e.buildSummary(convID, c.msgs, c.tier); ok {
			summaries = append(summaries, s)
		}
	}
	sortSummaries(summaries)

	e.Cache.Set(key, summaries)
	return summaries
}

// linkageTier fetches conversations already tied to the entity by
// internal contact records.
func (e *Engine) linkageTier(ctx context.Context, kind EntityKind, id int64, caller string, add func(string, MatchTier, []graph.Message)) {
	convIDs, err := e.Linkage.ConversationIDs(ctx, kind, id)
	if err != nil {
		log.Printf("threads %s/%d: linkage lookup: %v", kind, id, err)
		return
	}

	for _, convID := range convIDs {
		msgs, err := e.API.ConversationMessages(ctx, caller, convID)
		if err != nil {
			log.Printf("threads %s/%d: conversation %s: %v", kind, id, convID, err)
			continue
		}
		add(convID, TierLinkage, msgs)
	}
}

// subjectTagTier searches for the entity's outbound subject tag.
func (e *Engine) subjectTagTier(ctx context.Context, id int64, caller string, add func(string, MatchTier, []graph.Message)) {
	q := graph.Query{
		Search: "subject:" + e.Tagger.Build(id),
		Select: graph.MessageFields,
	}

	msgs, err := e.API.FetchAll(ctx, e.searchPath(caller), q, 100, tierSearchCap)
	if err != nil {
		log.Printf("threads tag search %d: %v", id, err)
		return
	}

	// The provider's search tokenizer is loose about brackets and digits,
	// so re-verify the exact tag on every hit before attributing.
	var matched []graph.Message
	for _, m := range msgs {
		if found, ok := e.Tagger.Find(m.Subject); ok && found == id {
			matched = append(matched, m)
		}
	}

	for convID, group := range groupByConversation(matched) {
		add(convID, TierSubjectTag, group)
	}
}

// freeTextTier searches for the requirement's part number, when it is
// substantial enough to be selective.
func (e *Engine) freeTextTier(ctx context.Context, id int64, caller string, add func(string, MatchTier, []graph.Message)) {
	req, err := e.Directory.Requirement(ctx, id)
	if err != nil {
		log.Printf("threads requirement %d: %v", id, err)
		return
	}
	if req == nil || len(req.PartNumber) < 3 {
		return
	}

	q := graph.Query{
		Search: req.PartNumber,
		Select: graph.MessageFields,
	}

	msgs, err := e.API.FetchAll(ctx, e.searchPath(caller), q, 100, tierSearchCap)
	if err != nil {
		log.Printf("threads free-text search %d: %v", id, err)
		return
	}

	for convID, group := range groupByConversation(msgs) {
		add(convID, TierFreeText, group)
	}
}

// domainTier searches by candidate vendor domains, concurrently, each
// search independently guarded so one bad domain costs nothing else.
func (e *Engine) domainTier(ctx context.Context, kind EntityKind, id int64, caller string, add func(string, MatchTier, []graph.Message)) {
	domains := e.candidateDomains(ctx, kind, id)
	if len(domains) == 0 {
		return
	}

	results := make([][]graph.Message, len(domains))
	var wg sync.WaitGroup
	for i, domain := range domains {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			q := graph.Query{
				Search: "participants:" + domain,
				Select: graph.MessageFields,
			}
			msgs, err := e.API.FetchAll(ctx, e.searchPath(caller), q, 100, tierSearchCap)
			if err != nil {
				log.Printf("threads domain search %s: %v", domain, err)
				return
			}
			results[i] = msgs
		}(i, domain)
	}
	wg.Wait()

	// Merge in fixed domain order so results are deterministic.
	for _, msgs := range results {
		for convID, group := range groupByConversation(msgs) {
			add(convID, TierVendorDomain, group)
		}
	}
}

// candidateDomains collects external domains for the entity, dropping
// generic consumer providers and the operator's own domains, capped at
// MaxDomains to bound external calls.
func (e *Engine) candidateDomains(ctx context.Context, kind EntityKind, id int64) []string {
	var raw []string

	switch kind {
	case KindRequirement:
		domains, err := e.Directory.RequirementVendorDomains(ctx, id)
		if err != nil {
			log.Printf("threads %s/%d: vendor domains: %v", kind, id, err)
			return nil
		}
		raw = domains

	case KindVendor:
		vendor, err := e.Directory.Vendor(ctx, id)
		if err != nil {
			log.Printf("threads %s/%d: vendor lookup: %v", kind, id, err)
			return nil
		}
		if vendor == nil {
			return nil
		}
		raw = append(raw, vendor.Domain)
		raw = append(raw, vendor.DomainAliases...)
		for _, addr := range vendor.ContactEmails {
			raw = append(raw, graph.Domain(addr))
		}
	}

	maxDomains := e.MaxDomains
	if maxDomains <= 0 {
		maxDomains = 5
	}

	seen := make(map[string]bool)
	var out []string
	for _, d := range raw {
		d = normalizeDomain(d)
		if d == "" || seen[d] || e.isInternalDomain(d) || e.isGenericDomain(d) {
			continue
		}
		seen[d] = true
		out = append(out, d)
		if len(out) >= maxDomains {
			break
		}
	}
	return out
}

func (e *Engine) searchPath(caller string) string {
	return fmt.Sprintf("/users/%s/messages", caller)
}

func (e *Engine) clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func groupByConversation(msgs []graph.Message) map[string][]graph.Message {
	groups := make(map[string][]graph.Message)
	for _, m := range msgs {
		if m.ConversationID == "" {
			continue
		}
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}
	return groups
}

func normalizeDomain(d string) string {
	return graph.Domain("@" + d)
}
