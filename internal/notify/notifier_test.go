package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type fakeSender struct {
	name     string
	err      error
	titles   []string
	messages []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventOpportunity}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventCycleFailed, "t", "m"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), EventOpportunity, "t", "m"))
	assert.Equal(t, []string{"t"}, s.titles)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api down")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, good.titles, 1)
}

func opp(pair string, net float64) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		PairKey:      pair,
		Type:         domain.CompareCEXCEX,
		BuyVenue:     "binance",
		BuyPrice:     2000,
		SellVenue:    "kraken",
		SellPrice:    2040,
		NetProfitPct: net,
	}
}

func TestAlertSkipsBelowProfitFloor(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	a := NewOpportunityAlerter(NewNotifier([]Sender{s}, nil, testLogger()), 0.5)

	require.NoError(t, a.Alert(context.Background(), []domain.ArbitrageOpportunity{opp("ETH/USDT", 0.3)}))
	assert.Empty(t, s.titles)

	require.NoError(t, a.Alert(context.Background(), []domain.ArbitrageOpportunity{
		opp("ETH/USDT", 0.3),
		opp("BTC/USDT", 0.9),
	}))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "1 arbitrage opportunities detected", s.titles[0])
	assert.Contains(t, s.messages[0], "BTC/USDT")
	assert.NotContains(t, s.messages[0], "ETH/USDT")
}

func TestAlertCycleFailure(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	a := NewOpportunityAlerter(NewNotifier([]Sender{s}, []string{EventCycleFailed}, testLogger()), 0.5)

	require.NoError(t, a.AlertCycleFailure(context.Background(), errors.New("venues unreachable")))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "detection cycle failed", s.titles[0])
	assert.Equal(t, "venues unreachable", s.messages[0])
}

func TestFormatOpportunitiesCapsAtTenLines(t *testing.T) {
	var opps []domain.ArbitrageOpportunity
	for i := 0; i < 13; i++ {
		opps = append(opps, opp("ETH/USDT", 1.0))
	}
	out := formatOpportunities(opps)
	assert.Equal(t, 11, len(strings.Split(out, "\n")))
	assert.Contains(t, out, "... and 3 more")
}
