package mailsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/tag"
)

func TestOutboundScanTalliesTaggedMail(t *testing.T) {
	pager := &fakePager{
		deltaMsgs: []graph.Message{
			{
				ID:      "s1",
				Subject: "[AVL-42] RFQ 2N2222A",
				From:    "buyer@trioscs.com",
				To:      []string{"sales@acme.test", "quotes@widget.test"},
				Cc:      []string{"manager@trioscs.com"},
			},
			{
				ID:      "s2",
				Subject: "lunch on friday?",
				From:    "buyer@trioscs.com",
				To:      []string{"friend@gmail.com"},
			},
		},
		deltaToken: "T1",
	}
	engine, store := testEngine(t, pager)

	scanner := &OutboundScanner{
		Engine:          engine,
		Tagger:          tag.New("AVL"),
		InternalDomains: []string{"trioscs.com"},
	}

	res, err := scanner.Run(context.Background(), "u1", 0, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, res.MessagesScanned)
	assert.Equal(t, 1, res.TaggedMessages)
	assert.Equal(t, map[string]int{"acme.test": 1, "widget.test": 1}, res.DomainOutreach,
		"internal recipients never count as outreach")

	// The untagged message was inspected and is done for this purpose.
	unprocessed, err := store.FilterUnprocessed(context.Background(),
		[]string{"s1", "s2"}, string(PurposeOutboundScan))
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestOutboundScanCountsRepeatDomains(t *testing.T) {
	pager := &fakePager{
		deltaMsgs: []graph.Message{
			{ID: "s1", Subject: "[AVL-1] rfq", To: []string{"a@acme.test"}},
			{ID: "s2", Subject: "[AVL-2] rfq", To: []string{"b@acme.test"}},
		},
		deltaToken: "T1",
	}
	engine, _ := testEngine(t, pager)

	scanner := &OutboundScanner{
		Engine:          engine,
		Tagger:          tag.New("AVL"),
		InternalDomains: []string{"trioscs.com"},
	}

	res, err := scanner.Run(context.Background(), "u1", 0, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, res.TaggedMessages)
	assert.Equal(t, map[string]int{"acme.test": 2}, res.DomainOutreach)
}
