package mailsync

import (
	"context"
	"time"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/tag"
)

// DefaultSentFolder is the provider's well-known sent-items folder name.
const DefaultSentFolder = "sentitems"

// OutboundScanner runs the sync engine over the sent-items folder and
// tallies outreach per recipient domain from tagged subjects. It does not
// write vendor records; the tallies go to the vendor-record updater.
type OutboundScanner struct {
	Engine          *Engine
	Tagger          *tag.Tagger
	InternalDomains []string

	// SentFolder overrides DefaultSentFolder when set.
	SentFolder string
}

// OutboundResult is the outcome of one outbound scan.
type OutboundResult struct {
	RunResult

	// TaggedMessages counts sent messages carrying a subject tag this run.
	TaggedMessages int

	// DomainOutreach maps recipient domain to how many tagged messages
	// reached it this run.
	DomainOutreach map[string]int
}

// Run scans the sent folder once. Untagged messages are inspected and
// marked processed but contribute nothing to the tallies.
func (s *OutboundScanner) Run(ctx context.Context, userID string, lookback time.Duration, maxMessages int) (OutboundResult, error) {
	tally := make(map[string]int)
	tagged := 0

	handler := func(_ context.Context, msg graph.Message) error {
		if _, ok := s.Tagger.Find(msg.Subject); !ok {
			return nil
		}
		tagged++
		for _, addr := range msg.Recipients() {
			d := graph.Domain(addr)
			if d == "" || s.isInternal(d) {
				continue
			}
			tally[d]++
		}
		return nil
	}

	folder := s.SentFolder
	if folder == "" {
		folder = DefaultSentFolder
	}

	res, err := s.Engine.Run(ctx, userID, folder, PurposeOutboundScan, lookback, maxMessages, handler)
	if err != nil {
		return OutboundResult{}, err
	}

	return OutboundResult{
		RunResult:      res,
		TaggedMessages: tagged,
		DomainOutreach: tally,
	}, nil
}

func (s *OutboundScanner) isInternal(domain string) bool {
	for _, d := range s.InternalDomains {
		if d == domain {
			return true
		}
	}
	return false
}
