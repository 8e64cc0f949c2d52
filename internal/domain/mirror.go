package domain

import "time"

// MirrorRecord is one row in the mirror registry: a source question that the
// bot cloned onto the destination platform. The (Source, SourceID) pair is
// unique; Resolved transitions false -> true exactly once and never reverts.
type MirrorRecord struct {
	ID         int64
	Source     Source
	SourceID   string
	SourceURL  string
	Question   string
	ContractID string
	MarketURL  string
	CreatedAt  time.Time
	Resolved   bool
	ResolvedAt *time.Time
}

// ThirdPartyMirror tracks a destination market created by someone other than
// the bot that mirrors a known source question. They participate in dedup so
// the bot does not clone a question another user already mirrored.
type ThirdPartyMirror struct {
	ID         int64
	Source     Source
	SourceID   string
	ContractID string
	MarketURL  string
	SeenAt     time.Time
}

// Managram is a paid direct message on the destination platform. Processed
// is set before any refund is attempted so a crash between the two steps can
// never double-refund.
type Managram struct {
	TxnID     string
	GroupID   string
	FromID    string
	ToID      string
	CreatedAt time.Time
	Token     string
	Amount    float64
	Message   string
	Processed bool
}
