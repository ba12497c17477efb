package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Event types used by the alerter. These are matched against the configured
// notify.events list.
const (
	EventOpportunity = "opportunity_detected"
	EventCycleFailed = "cycle_failed"
)

// OpportunityAlerter turns detected opportunities into operator notifications.
// Opportunities below the configured net-profit floor are not alerted; they
// are still persisted and served by the API.
type OpportunityAlerter struct {
	notifier        *Notifier
	minNetProfitPct float64
}

// NewOpportunityAlerter creates an alerter over the given notifier.
func NewOpportunityAlerter(notifier *Notifier, minNetProfitPct float64) *OpportunityAlerter {
	return &OpportunityAlerter{
		notifier:        notifier,
		minNetProfitPct: minNetProfitPct,
	}
}

// Alert sends one notification summarizing the cycle's viable opportunities.
// It returns nil without sending when none clear the alert floor.
func (a *OpportunityAlerter) Alert(ctx context.Context, opps []domain.ArbitrageOpportunity) error {
	var notable []domain.ArbitrageOpportunity
	for _, opp := range opps {
		if opp.NetProfitPct >= a.minNetProfitPct {
			notable = append(notable, opp)
		}
	}
	if len(notable) == 0 {
		return nil
	}

	title := fmt.Sprintf("%d arbitrage opportunities detected", len(notable))
	return a.notifier.Notify(ctx, EventOpportunity, title, formatOpportunities(notable))
}

// AlertCycleFailure notifies operators that a detection cycle failed outright.
// Per-venue failures inside a cycle are not alerted; only a cycle that returned
// an error is.
func (a *OpportunityAlerter) AlertCycleFailure(ctx context.Context, cause error) error {
	return a.notifier.Notify(ctx, EventCycleFailed, "detection cycle failed", cause.Error())
}

// formatOpportunities renders one line per opportunity, capped at ten lines
// so chat messages stay within channel size limits.
func formatOpportunities(opps []domain.ArbitrageOpportunity) string {
	const maxLines = 10

	var b strings.Builder
	for i, opp := range opps {
		if i == maxLines {
			fmt.Fprintf(&b, "... and %d more", len(opps)-maxLines)
			break
		}
		fmt.Fprintf(&b, "%s [%s] buy %s @ %.6g, sell %s @ %.6g, net %.2f%%\n",
			opp.PairKey, opp.Type,
			opp.BuyVenue, opp.BuyPrice,
			opp.SellVenue, opp.SellPrice,
			opp.NetProfitPct,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}
