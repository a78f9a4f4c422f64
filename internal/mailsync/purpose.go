package mailsync

import "fmt"

// Purpose identifies one processing pipeline stage. It is a closed set:
// the idempotency ledger is keyed by (message, purpose), so a typo here
// would silently fragment it. Always go through ParsePurpose for
// externally supplied values.
type Purpose string

const (
	// PurposeInboundMining scans the inbox for vendor offers.
	PurposeInboundMining Purpose = "inbound-mining"

	// PurposeAttachmentScan inspects inbound attachments for stock lists.
	PurposeAttachmentScan Purpose = "attachment-scan"

	// PurposeOutboundScan tallies outreach from tagged sent mail. A sent
	// message without a subject tag is still marked processed for this
	// purpose: it was inspected once and is never revisited, even if the
	// tagging convention changes later. Changing that requires an
	// administrative purge of this purpose's markers.
	PurposeOutboundScan Purpose = "outbound-scan"

	// PurposeDeepMining is the wide historical re-scan stage.
	PurposeDeepMining Purpose = "deep-mining"
)

// ParsePurpose validates an externally supplied purpose string.
func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeInboundMining, PurposeAttachmentScan, PurposeOutboundScan, PurposeDeepMining:
		return Purpose(s), nil
	}
	return "", fmt.Errorf("unknown purpose %q", s)
}

func (p Purpose) String() string {
	return string(p)
}
