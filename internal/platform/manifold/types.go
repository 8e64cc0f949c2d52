package manifold

import "time"

// millis is a unix-milliseconds timestamp as used throughout the Manifold
// API.
type millis int64

// Time converts the timestamp to a time.Time in UTC.
func (m millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

func toMillis(t time.Time) millis {
	return millis(t.UnixMilli())
}

// Market is the market representation returned by the Manifold API. The lite
// and full forms share a shape; TextDescription is only populated on single
// market fetches.
type Market struct {
	ID              string `json:"id"`
	CreatorID       string `json:"creatorId"`
	Question        string `json:"question"`
	Slug            string `json:"slug"`
	CreatedTime     millis `json:"createdTime"`
	CloseTime       millis `json:"closeTime"`
	IsResolved      bool   `json:"isResolved"`
	Resolution      string `json:"resolution,omitempty"`
	TextDescription string `json:"textDescription,omitempty"`
}

// CreateMarketRequest is the payload for creating a binary market.
type CreateMarketRequest struct {
	OutcomeType         string   `json:"outcomeType"`
	Question            string   `json:"question"`
	DescriptionMarkdown string   `json:"descriptionMarkdown"`
	CloseTime           millis   `json:"closeTime"`
	InitialProb         int      `json:"initialProb"`
	GroupIDs            []string `json:"groupIds,omitempty"`
}

// Resolution is the payload for resolving a binary market. ProbabilityInt is
// only set for MKT resolutions (integer percentage, 1-99).
type Resolution struct {
	Outcome        string `json:"outcome"`
	ProbabilityInt *int   `json:"probabilityInt,omitempty"`
}

// Managram is one paid message transaction.
type Managram struct {
	TxnID       string
	GroupID     string
	FromID      string
	ToID        string
	CreatedTime time.Time
	Token       string
	Amount      float64
	Message     string
}

// managramJSON is the wire shape; the message text and group id live in a
// nested data object.
type managramJSON struct {
	ID          string  `json:"id"`
	FromID      string  `json:"fromId"`
	ToID        string  `json:"toId"`
	CreatedTime millis  `json:"createdTime"`
	Token       string  `json:"token"`
	Amount      float64 `json:"amount"`
	Data        struct {
		GroupID string `json:"groupId"`
		Message string `json:"message"`
	} `json:"data"`
}

func (j managramJSON) toManagram() Managram {
	return Managram{
		TxnID:       j.ID,
		GroupID:     j.Data.GroupID,
		FromID:      j.FromID,
		ToID:        j.ToID,
		CreatedTime: j.CreatedTime.Time(),
		Token:       j.Token,
		Amount:      j.Amount,
		Message:     j.Data.Message,
	}
}

// SendManagramRequest is the payload for sending mana to other users.
type SendManagramRequest struct {
	Amount  float64  `json:"amount"`
	ToIDs   []string `json:"toIds"`
	Message string   `json:"message"`
}

// errorResponse is Manifold's error body shape.
type errorResponse struct {
	Message string `json:"message"`
}
