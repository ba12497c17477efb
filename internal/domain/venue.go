package domain

// VenueKind distinguishes centralized exchanges from on-chain DEX protocols.
type VenueKind string

const (
	VenueCentralized   VenueKind = "centralized"
	VenueDecentralized VenueKind = "decentralized"
)

// Capabilities are the features a venue advertises. They are checked by tag,
// never by probing for fields at runtime.
type Capabilities struct {
	// BulkQuote indicates the venue can return all quoted pairs with volume
	// in a single call.
	BulkQuote bool
}

// Venue is a centralized exchange or a DEX protocol instance on a specific
// chain. Venues are rebuilt on every catalog refresh; a venue that fails a
// query mid-cycle is deactivated for the remainder of that cycle only.
type Venue struct {
	ID           string
	Kind         VenueKind
	Chain        string // set for decentralized venues only
	Capabilities Capabilities
	Active       bool
}

// IsDecentralized reports whether the venue settles on-chain.
func (v Venue) IsDecentralized() bool {
	return v.Kind == VenueDecentralized
}
