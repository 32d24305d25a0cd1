package lifecycle

import (
	"testing"
	"time"

	"github.com/ortelius/avr-backend/model"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name string
		obs  Observation
		opts Options
		want string
	}{
		{
			name: "first appearance is new",
			obs:  Observation{PresentInLatestScan: true},
			opts: DefaultOptions(),
			want: model.StateNew,
		},
		{
			name: "prior scan makes it recurring",
			obs:  Observation{PresentInLatestScan: true, AppearedInPriorScan: true},
			opts: DefaultOptions(),
			want: model.StateRecurring,
		},
		{
			name: "legacy nonzero scan counts as recurring",
			obs:  Observation{PresentInLatestScan: true, LegacyNonzeroScan: true},
			opts: DefaultOptions(),
			want: model.StateRecurring,
		},
		{
			name: "legacy heuristic can be disabled",
			obs:  Observation{PresentInLatestScan: true, LegacyNonzeroScan: true},
			opts: Options{LegacyScanCountsAsRecurring: false},
			want: model.StateNew,
		},
		{
			name: "active session",
			obs:  Observation{PresentInLatestScan: true, AppearedInPriorScan: true, Signals: Signals{SessionActive: true}},
			opts: DefaultOptions(),
			want: model.StateSessionDispatched,
		},
		{
			name: "open pull request",
			obs:  Observation{PresentInLatestScan: true, AppearedInPriorScan: true, Signals: Signals{PROpen: true}},
			opts: DefaultOptions(),
			want: model.StatePROpen,
		},
		{
			name: "merged awaiting verification",
			obs:  Observation{PresentInLatestScan: true, AppearedInPriorScan: true, Signals: Signals{PRMerged: true}},
			opts: DefaultOptions(),
			want: model.StatePRMerged,
		},
		{
			name: "verified fixed",
			obs:  Observation{PresentInLatestScan: true, Signals: Signals{Verified: true}},
			opts: DefaultOptions(),
			want: model.StateVerifiedFixed,
		},
		{
			name: "absent from latest scan wins over signals",
			obs:  Observation{PresentInLatestScan: false, Signals: Signals{SessionActive: true}},
			opts: DefaultOptions(),
			want: model.StateFixed,
		},
		{
			name: "reappearance after fix is recurring via history",
			obs: Observation{
				PresentInLatestScan: true,
				History:             &model.DispatchHistoryEntry{Fingerprint: "fp", DispatchCount: 2},
			},
			opts: DefaultOptions(),
			want: model.StateRecurring,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.obs, tc.opts))
		})
	}
}

func TestEvaluateSkipsTerminalStates(t *testing.T) {
	fixed := Evaluate(Observation{}, nil, 3, DefaultOptions(), now)
	assert.False(t, fixed.Eligible)
	assert.Equal(t, model.SkipFixed, fixed.SkipReason)

	verified := Evaluate(Observation{PresentInLatestScan: true, Signals: Signals{Verified: true}}, nil, 3, DefaultOptions(), now)
	assert.False(t, verified.Eligible)
	assert.Equal(t, model.SkipVerified, verified.SkipReason)

	inFlight := Evaluate(Observation{PresentInLatestScan: true, Signals: Signals{SessionActive: true}}, nil, 3, DefaultOptions(), now)
	assert.False(t, inFlight.Eligible)
	assert.Equal(t, model.SkipActiveSession, inFlight.SkipReason)

	merged := Evaluate(Observation{PresentInLatestScan: true, Signals: Signals{PRMerged: true}}, nil, 3, DefaultOptions(), now)
	assert.False(t, merged.Eligible)
	assert.Equal(t, model.SkipPRMerged, merged.SkipReason)
}

func TestEvaluateNeedsHumanReview(t *testing.T) {
	dispatched := now.Add(-9999 * time.Hour)
	obs := Observation{
		PresentInLatestScan: true,
		AppearedInPriorScan: true,
		History: &model.DispatchHistoryEntry{
			Fingerprint:         "fp",
			DispatchCount:       3,
			ConsecutiveFailures: 3,
			NeedsHumanReview:    true,
			LastDispatched:      &dispatched,
		},
	}

	res := Evaluate(obs, []int{24, 72, 168}, 3, DefaultOptions(), now)
	assert.False(t, res.Eligible)
	assert.Equal(t, model.SkipNeedsHumanReview, res.SkipReason)
	assert.Equal(t, model.StateRecurring, res.State)
}

func TestEvaluateCooldown(t *testing.T) {
	dispatched := now.Add(-2 * time.Hour)
	obs := Observation{
		PresentInLatestScan: true,
		AppearedInPriorScan: true,
		History: &model.DispatchHistoryEntry{
			Fingerprint:         "fp",
			DispatchCount:       1,
			ConsecutiveFailures: 1,
			LastDispatched:      &dispatched,
		},
	}

	res := Evaluate(obs, []int{24, 72, 168}, 3, DefaultOptions(), now)
	assert.False(t, res.Eligible)
	assert.Equal(t, model.SkipCooldown, res.SkipReason)

	// Once the 24h cooldown elapses the issue is dispatchable again.
	res = Evaluate(obs, []int{24, 72, 168}, 3, DefaultOptions(), now.Add(23*time.Hour))
	assert.True(t, res.Eligible)
}
