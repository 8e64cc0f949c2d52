package metaculus

import "time"

// Question states reported by the api2 active_state field.
const (
	StateOpen     = "OPEN"
	StateClosed   = "CLOSED"
	StateResolved = "RESOLVED"
)

// Question is the api2 question representation. ResolutionCriteria is only
// present on single-question fetches, not on list responses.
type Question struct {
	ID                  int64          `json:"id"`
	Title               string         `json:"title"`
	PageURL             string         `json:"page_url"`
	ActiveState         string         `json:"active_state"`
	Type                string         `json:"type"`
	Possibilities       possibilities  `json:"possibilities"`
	Resolution          *float64       `json:"resolution"`
	PublishTime         time.Time      `json:"publish_time"`
	ResolveTime         time.Time      `json:"resolve_time"`
	LastActivityTime    *time.Time     `json:"last_activity_time"`
	Votes               int64          `json:"votes"`
	CommunityPrediction *communityPred `json:"community_prediction"`
	NumberOfForecasters *int64         `json:"number_of_forecasters"`
	Group               *int64         `json:"group"`
	Condition           any            `json:"condition"`
	ResolutionCriteria  *string        `json:"resolution_criteria"`
}

type possibilities struct {
	Type string `json:"type"`
}

type communityPred struct {
	Full *struct {
		Q2 *float64 `json:"q2"`
	} `json:"full"`
}

// IsBinary reports whether the question's forecast shape is binary yes/no.
func (q Question) IsBinary() bool {
	return q.Possibilities.Type == "binary"
}

// IsForecast reports whether the question is an actual forecast, as opposed
// to a notebook, discussion, or group container.
func (q Question) IsForecast() bool {
	return q.Type == "forecast"
}

// IsGrouped reports whether the question belongs to a question group.
func (q Question) IsGrouped() bool {
	return q.Group != nil
}

// IsConditional reports whether the question is a conditional pair member.
func (q Question) IsConditional() bool {
	return q.Condition != nil
}

// CommunityProb returns the visible community prediction, if any.
func (q Question) CommunityProb() *float64 {
	if q.CommunityPrediction == nil || q.CommunityPrediction.Full == nil {
		return nil
	}
	return q.CommunityPrediction.Full.Q2
}

// FullURL builds the public question URL from the relative page url.
func (q Question) FullURL() string {
	return "https://www.metaculus.com" + q.PageURL
}

// questionsResponse is the paginated list envelope.
type questionsResponse struct {
	Next    *string    `json:"next"`
	Results []Question `json:"results"`
}
