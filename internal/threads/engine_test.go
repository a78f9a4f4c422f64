package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/tag"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

// fakeAPI scripts tier searches and conversation fetches, counting every
// external call.
type fakeAPI struct {
	mu       sync.Mutex
	calls    int
	terms    []string
	searches map[string][]graph.Message
	errs     map[string]error
	convs    map[string][]graph.Message
	convErrs map[string]error
}

func (f *fakeAPI) FetchAll(_ context.Context, _ string, q graph.Query, _, _ int) ([]graph.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.terms = append(f.terms, q.Search)
	if err := f.errs[q.Search]; err != nil {
		return nil, err
	}
	return f.searches[q.Search], nil
}

func (f *fakeAPI) ConversationMessages(_ context.Context, _, convID string) ([]graph.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.convErrs[convID]; err != nil {
		return nil, err
	}
	return f.convs[convID], nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRecords backs the linkage and directory collaborators.
type fakeRecords struct {
	convIDs    []string
	req        *Requirement
	vendor     *Vendor
	reqDomains []string

	linkageErr error
	reqErr     error
	vendorErr  error
	domainsErr error
}

func (f *fakeRecords) ConversationIDs(context.Context, EntityKind, int64) ([]string, error) {
	return f.convIDs, f.linkageErr
}

func (f *fakeRecords) Requirement(context.Context, int64) (*Requirement, error) {
	return f.req, f.reqErr
}

func (f *fakeRecords) Vendor(context.Context, int64) (*Vendor, error) {
	return f.vendor, f.vendorErr
}

func (f *fakeRecords) RequirementVendorDomains(context.Context, int64) ([]string, error) {
	return f.reqDomains, f.domainsErr
}

func newTestEngine(api *fakeAPI, rec *fakeRecords) *Engine {
	if api.searches == nil {
		api.searches = map[string][]graph.Message{}
	}
	if api.convs == nil {
		api.convs = map[string][]graph.Message{}
	}
	return &Engine{
		API:             api,
		Linkage:         rec,
		Directory:       rec,
		Cache:           NewResultCache(5 * time.Minute),
		Tagger:          tag.New("AVL"),
		InternalDomains: []string{"trioscs.com"},
		GenericDomains:  []string{"gmail.com"},
		SLAWindow:       24 * time.Hour,
		MaxDomains:      5,
		Now:             func() time.Time { return testNow },
	}
}

func external(id, conv, from string, to []string, age time.Duration) graph.Message {
	return graph.Message{
		ID:             id,
		ConversationID: conv,
		Subject:        "offer " + id,
		From:           from,
		To:             to,
		Preview:        "preview " + id,
		Received:       testNow.Add(-age),
	}
}

func TestVendorDomainAttribution(t *testing.T) {
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"participants:acme.test": {
				external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour),
				external("m2", "C2", "buyer@trioscs.com", []string{"manager@trioscs.com"}, time.Hour),
			},
		},
	}
	rec := &fakeRecords{vendor: &Vendor{ID: 9, Domain: "acme.test"}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 9, "u1")
	require.Len(t, list, 1, "the fully internal conversation contributes nothing")
	assert.Equal(t, "C1", list[0].ConversationID)
	assert.Equal(t, TierVendorDomain, list[0].MatchedVia)
	assert.Equal(t, []string{"sales@acme.test"}, list[0].Participants)
	assert.Equal(t, 1, list[0].MessageCount)
}

func TestInternalNoiseFiltering(t *testing.T) {
	api := &fakeAPI{
		convs: map[string][]graph.Message{
			"C-noise": {
				external("m1", "C-noise", "a@trioscs.com", []string{"b@trioscs.com"}, time.Hour),
				external("m2", "C-noise", "b@trioscs.com", []string{"a@trioscs.com"}, 2*time.Hour),
			},
			"C-mixed": {
				external("m3", "C-mixed", "a@trioscs.com", []string{"b@trioscs.com"}, time.Hour),
				external("m4", "C-mixed", "a@trioscs.com", []string{"sales@acme.test"}, 2*time.Hour),
			},
		},
	}
	rec := &fakeRecords{convIDs: []string{"C-noise", "C-mixed"}, vendor: &Vendor{ID: 1}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 1, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "C-mixed", list[0].ConversationID)
	assert.Equal(t, TierLinkage, list[0].MatchedVia)
	assert.Equal(t, 1, list[0].MessageCount, "internal-only messages are stripped before counting")
}

func TestNeedsResponseBoundary(t *testing.T) {
	cases := []struct {
		name string
		msg  graph.Message
		want bool
	}{
		{
			name: "external exactly at SLA",
			msg:  external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, 24*time.Hour),
			want: true,
		},
		{
			name: "external just inside SLA",
			msg:  external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, 24*time.Hour-time.Minute),
			want: false,
		},
		{
			name: "internal sender never needs response",
			msg:  external("m1", "C1", "buyer@trioscs.com", []string{"sales@acme.test"}, 48*time.Hour),
			want: false,
		},
		{
			name: "unparseable timestamp is conservative",
			msg: graph.Message{
				ID: "m1", ConversationID: "C1",
				From: "sales@acme.test", To: []string{"buyer@trioscs.com"},
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{convs: map[string][]graph.Message{"C1": {tc.msg}}}
			rec := &fakeRecords{convIDs: []string{"C1"}, vendor: &Vendor{ID: 1}}
			e := newTestEngine(api, rec)

			list := e.ThreadsForVendor(context.Background(), 1, "u1")
			require.Len(t, list, 1)
			assert.Equal(t, tc.want, list[0].NeedsResponse)
		})
	}
}

func TestSubjectTagTierRequiresExactTag(t *testing.T) {
	wrong := external("m1", "C-wrong", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour)
	wrong.Subject = "[AVL-420] stock list"
	right := external("m2", "C-right", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour)
	right.Subject = "[AVL-42] stock list"

	// A loose provider tokenizer can return the longer-id tag for the
	// shorter-id search; only the exact tag may attribute.
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"subject:[AVL-42]": {wrong, right},
		},
	}
	rec := &fakeRecords{vendor: &Vendor{ID: 42}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 42, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "C-right", list[0].ConversationID)
	assert.Equal(t, TierSubjectTag, list[0].MatchedVia)
}

func TestMergeDeduplicatesAcrossTiers(t *testing.T) {
	shared := external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour)
	shared.Subject = "RE: [AVL-9] offer"
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"subject:[AVL-9]":        {shared},
			"participants:acme.test": {shared},
		},
	}
	rec := &fakeRecords{vendor: &Vendor{ID: 9, Domain: "acme.test"}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 9, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, TierSubjectTag, list[0].MatchedVia,
		"the earlier-executed tier owns the conversation")
}

func TestCacheShortCircuitsWithinTTL(t *testing.T) {
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"participants:acme.test": {
				external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour),
			},
		},
	}
	rec := &fakeRecords{vendor: &Vendor{ID: 9, Domain: "acme.test"}}
	e := newTestEngine(api, rec)
	ctx := context.Background()

	first := e.ThreadsForVendor(ctx, 9, "u1")
	callsAfterFirst := api.callCount()
	require.NotZero(t, callsAfterFirst)

	second := e.ThreadsForVendor(ctx, 9, "u1")
	assert.Equal(t, callsAfterFirst, api.callCount(), "a cache hit issues zero external calls")
	assert.Equal(t, first, second)

	// Expire the entry; the full four-tier lookup runs again.
	e.Cache.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	e.ThreadsForVendor(ctx, 9, "u1")
	assert.Greater(t, api.callCount(), callsAfterFirst)
}

func TestCacheIsPerCaller(t *testing.T) {
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"participants:acme.test": {
				external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour),
			},
		},
	}
	rec := &fakeRecords{vendor: &Vendor{ID: 9, Domain: "acme.test"}}
	e := newTestEngine(api, rec)
	ctx := context.Background()

	e.ThreadsForVendor(ctx, 9, "u1")
	calls := api.callCount()

	e.ThreadsForVendor(ctx, 9, "u2")
	assert.Greater(t, api.callCount(), calls, "another caller's view is not served from the first caller's cache")
}

func TestFreeTextTierRequiresSubstantialToken(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecords{req: &Requirement{ID: 5, PartNumber: "2N"}}
	e := newTestEngine(api, rec)

	e.ThreadsForRequirement(context.Background(), 5, "u1")
	assert.NotContains(t, api.terms, "2N", "two-character part numbers are too broad to search")

	rec.req.PartNumber = "2N2222A"
	e.Cache = NewResultCache(5 * time.Minute)
	e.ThreadsForRequirement(context.Background(), 5, "u1")
	assert.Contains(t, api.terms, "2N2222A")
}

func TestTierFailuresDegradeToFewerResults(t *testing.T) {
	api := &fakeAPI{
		searches: map[string][]graph.Message{
			"participants:widget.test": {
				external("m1", "C1", "quotes@widget.test", []string{"buyer@trioscs.com"}, time.Hour),
			},
		},
		errs: map[string]error{
			"subject:[AVL-9]":        errors.New("search backend down"),
			"participants:acme.test": errors.New("throttled"),
		},
	}
	rec := &fakeRecords{
		linkageErr: errors.New("records service down"),
		vendor:     &Vendor{ID: 9, Domain: "acme.test", DomainAliases: []string{"widget.test"}},
	}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 9, "u1")
	require.Len(t, list, 1, "surviving tiers still contribute")
	assert.Equal(t, "C1", list[0].ConversationID)
}

func TestEmptyResultIsNotAnError(t *testing.T) {
	e := newTestEngine(&fakeAPI{}, &fakeRecords{})

	list := e.ThreadsForVendor(context.Background(), 404, "u1")
	assert.Empty(t, list)
}

func TestDomainCandidateFiltering(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecords{vendor: &Vendor{
		ID:            9,
		Domain:        "acme.test",
		DomainAliases: []string{"trioscs.com", "ACME.test"},
		ContactEmails: []string{"somebody@gmail.com", "rep@widget.test"},
	}}
	e := newTestEngine(api, rec)

	e.ThreadsForVendor(context.Background(), 9, "u1")

	assert.Contains(t, api.terms, "participants:acme.test")
	assert.Contains(t, api.terms, "participants:widget.test")
	assert.NotContains(t, api.terms, "participants:trioscs.com", "own domains are never searched")
	assert.NotContains(t, api.terms, "participants:gmail.com", "generic consumer domains are never searched")
}

func TestDomainCap(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeRecords{reqDomains: []string{
		"d1.test", "d2.test", "d3.test", "d4.test", "d5.test", "d6.test", "d7.test",
	}}
	e := newTestEngine(api, rec)
	e.MaxDomains = 3

	e.ThreadsForRequirement(context.Background(), 5, "u1")

	domainSearches := 0
	for _, term := range api.terms {
		if strings.HasPrefix(term, "participants:") {
			domainSearches++
		}
	}
	assert.Equal(t, 3, domainSearches)
}

func TestOrderingNewestFirst(t *testing.T) {
	api := &fakeAPI{
		convs: map[string][]graph.Message{
			"C-old": {external("m1", "C-old", "a@acme.test", []string{"buyer@trioscs.com"}, 72*time.Hour)},
			"C-new": {external("m2", "C-new", "b@acme.test", []string{"buyer@trioscs.com"}, time.Hour)},
			"C-undated": {{
				ID: "m3", ConversationID: "C-undated",
				From: "c@acme.test", To: []string{"buyer@trioscs.com"},
			}},
		},
	}
	rec := &fakeRecords{convIDs: []string{"C-old", "C-undated", "C-new"}, vendor: &Vendor{ID: 1}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 1, "u1")
	require.Len(t, list, 3)
	assert.Equal(t, "C-new", list[0].ConversationID)
	assert.Equal(t, "C-old", list[1].ConversationID)
	assert.Equal(t, "C-undated", list[2].ConversationID, "missing timestamps sort as oldest")
}

func TestDisplaySubjectStripsTag(t *testing.T) {
	msg := external("m1", "C1", "sales@acme.test", []string{"buyer@trioscs.com"}, time.Hour)
	msg.Subject = "RE: [AVL-9] 2N2222A availability"

	api := &fakeAPI{convs: map[string][]graph.Message{"C1": {msg}}}
	rec := &fakeRecords{convIDs: []string{"C1"}, vendor: &Vendor{ID: 9}}
	e := newTestEngine(api, rec)

	list := e.ThreadsForVendor(context.Background(), 9, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "RE: 2N2222A availability", list[0].Subject)
}
