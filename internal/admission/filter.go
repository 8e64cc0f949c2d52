// Package admission implements the question admission filter: a pure
// rule evaluation that decides whether a source question is worth mirroring.
// It holds no state and performs no I/O; callers pass a question snapshot, a
// threshold set, and the current time.
package admission

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// FilterConfig is a named set of admission thresholds. Each platform carries
// two instances: a strict one for scheduled discovery and a looser one for
// user-requested mirrors. Zero-valued numeric thresholds disable their check,
// so a platform only pays for the checks its config actually sets.
type FilterConfig struct {
	RequireOpen                bool     `toml:"require_open"`
	ExcludeResolved            bool     `toml:"exclude_resolved"`
	ExcludeGrouped             bool     `toml:"exclude_grouped"`
	ExcludeConditional         bool     `toml:"exclude_conditional"`
	RequireCommunityPrediction bool     `toml:"require_community_prediction"`
	ExcludeIDs                 []string `toml:"exclude_ids"`

	MinForecasters int64 `toml:"min_forecasters"`
	MinVotes       int64 `toml:"min_votes"`

	MinLiquidity          int64 `toml:"min_liquidity"`
	MinVolume             int64 `toml:"min_volume"`
	MinRecentVolume       int64 `toml:"min_recent_volume"`
	MinOpenInterest       int64 `toml:"min_open_interest"`
	MinDollarVolume       int64 `toml:"min_dollar_volume"`
	MinDollarRecentVolume int64 `toml:"min_dollar_recent_volume"`
	MinDollarOpenInterest int64 `toml:"min_dollar_open_interest"`

	MinDaysToResolution int64 `toml:"min_days_to_resolution"`
	MaxDaysToResolution int64 `toml:"max_days_to_resolution"`
	MaxAgeDays          int64 `toml:"max_age_days"`
	MaxLastActiveDays   int64 `toml:"max_last_active_days"`

	MaxConfidence float64 `toml:"max_confidence"`
}

// Result is the outcome of one evaluation. Reason is empty on acceptance and
// carries the first failing check's diagnostic otherwise.
type Result struct {
	Accepted bool
	Reason   string
}

func accept() Result { return Result{Accepted: true} }

func reject(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies the configured checks in a fixed order and short-circuits
// on the first failure. The order only affects which reason gets reported;
// a question is accepted iff every applicable check passes.
func Evaluate(q domain.SourceQuestion, cfg FilterConfig, now time.Time) Result {
	// State flags first: they are the cheapest checks and the most common
	// cause of rejection for scheduled passes.
	if cfg.RequireOpen && !q.Open {
		return reject("question is not open")
	}
	if cfg.ExcludeResolved && q.Resolved {
		return reject("question has already resolved")
	}
	if cfg.ExcludeGrouped && q.Grouped {
		return reject("question is part of a group")
	}
	if cfg.ExcludeConditional && q.Conditional {
		return reject("conditional questions are not supported")
	}
	for _, id := range cfg.ExcludeIDs {
		if id == q.ID {
			return reject("question is excluded in config")
		}
	}
	if cfg.MinForecasters > 0 && q.Forecasters < cfg.MinForecasters {
		return reject("question has %d forecasters, and the minimum is %d", q.Forecasters, cfg.MinForecasters)
	}
	if cfg.MinVotes > 0 && q.Votes < cfg.MinVotes {
		return reject("question has %d votes, and the minimum is %d", q.Votes, cfg.MinVotes)
	}
	if cfg.MinLiquidity > 0 && q.Liquidity < cfg.MinLiquidity {
		return reject("question has %d liquidity, and the minimum is %d", q.Liquidity, cfg.MinLiquidity)
	}
	if cfg.MinVolume > 0 && q.Volume < cfg.MinVolume {
		return reject("question has %d volume, and the minimum is %d", q.Volume, cfg.MinVolume)
	}
	if cfg.MinRecentVolume > 0 && q.RecentVolume < cfg.MinRecentVolume {
		return reject("question has %d recent volume, and the minimum is %d", q.RecentVolume, cfg.MinRecentVolume)
	}
	if cfg.MinOpenInterest > 0 && q.OpenInterest < cfg.MinOpenInterest {
		return reject("question has %d open interest, and the minimum is %d", q.OpenInterest, cfg.MinOpenInterest)
	}
	if cfg.MinDollarVolume > 0 && q.DollarVolume < cfg.MinDollarVolume {
		return reject("question has %d dollar volume, and the minimum is %d", q.DollarVolume, cfg.MinDollarVolume)
	}
	if cfg.MinDollarRecentVolume > 0 && q.DollarRecentVolume < cfg.MinDollarRecentVolume {
		return reject("question has %d dollar recent volume, and the minimum is %d", q.DollarRecentVolume, cfg.MinDollarRecentVolume)
	}
	if cfg.MinDollarOpenInterest > 0 && q.DollarOpenInterest < cfg.MinDollarOpenInterest {
		return reject("question has %d dollar open interest, and the minimum is %d", q.DollarOpenInterest, cfg.MinDollarOpenInterest)
	}

	daysRemaining := wholeDays(q.ClosesAt.Sub(now))
	if cfg.MinDaysToResolution > 0 && daysRemaining < cfg.MinDaysToResolution {
		return reject("question resolves in %d days, and the minimum is %d", daysRemaining, cfg.MinDaysToResolution)
	}
	if cfg.MaxDaysToResolution > 0 && daysRemaining > cfg.MaxDaysToResolution {
		return reject("question resolves in %d days, and the maximum is %d", daysRemaining, cfg.MaxDaysToResolution)
	}

	if cfg.MaxAgeDays > 0 {
		ageDays := wholeDays(now.Sub(q.CreatedAt))
		if ageDays > cfg.MaxAgeDays {
			return reject("question published %d days ago, and the maximum is %d", ageDays, cfg.MaxAgeDays)
		}
	}
	if cfg.MaxLastActiveDays > 0 {
		if q.LastActiveAt == nil {
			return reject("question has no recorded activity, and the maximum inactivity is %d days", cfg.MaxLastActiveDays)
		}
		inactiveDays := wholeDays(now.Sub(*q.LastActiveAt))
		if inactiveDays > cfg.MaxLastActiveDays {
			return reject("question was last active %d days ago, and the maximum is %d", inactiveDays, cfg.MaxLastActiveDays)
		}
	}

	if cfg.MaxConfidence > 0 && q.CommunityPrediction != nil {
		p := *q.CommunityPrediction
		confidence := p
		if 1-p > confidence {
			confidence = 1 - p
		}
		if confidence > cfg.MaxConfidence {
			return reject("community forecast suggests a probability of %v, and the maximum confidence is %v", p, cfg.MaxConfidence)
		}
	}
	if cfg.RequireCommunityPrediction && q.CommunityPrediction == nil {
		return reject("community prediction still hidden")
	}

	return accept()
}

// wholeDays truncates a duration to whole days, matching how the thresholds
// are expressed in config.
func wholeDays(d time.Duration) int64 {
	return int64(d.Hours() / 24)
}
