package threads

import "context"

// EntityKind selects which internal business entity threads are
// attributed to.
type EntityKind string

const (
	KindRequirement EntityKind = "requirement"
	KindVendor      EntityKind = "vendor"
)

// Requirement is the read-only slice of a sourcing requirement the
// attribution engine needs.
type Requirement struct {
	ID         int64
	PartNumber string
}

// Vendor is the read-only slice of a vendor card the attribution engine
// needs.
type Vendor struct {
	ID            int64
	Domain        string
	DomainAliases []string
	ContactEmails []string
}

// LinkageSource exposes conversation ids already tied to an entity by
// prior outbound-contact or inbound-response records. The engine never
// writes through this interface.
type LinkageSource interface {
	ConversationIDs(ctx context.Context, kind EntityKind, id int64) ([]string, error)
}

// Directory is the read-only view of the business records backing the
// attribution tiers.
type Directory interface {
	Requirement(ctx context.Context, id int64) (*Requirement, error)
	Vendor(ctx context.Context, id int64) (*Vendor, error)

	// RequirementVendorDomains lists candidate vendor domains for a
	// requirement, derived from vendor sightings and vendor-card links.
	RequirementVendorDomains(ctx context.Context, id int64) ([]string, error)
}
