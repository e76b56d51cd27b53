package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
	"github.com/gyaneshwarpardhi/fraudguard/internal/rules"
)

func vector(amount, ratio, remainder float64, locationChange int) features.Vector {
	return features.Vector{
		Amount:         amount,
		AmountRatio:    ratio,
		LocationChange: locationChange,
		Meta:           features.Meta{AccountType: "STUDENT", AccountLimit: 5000, Remainder10: remainder},
	}
}

func ids(ms []rules.Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.RuleID)
	}
	return out
}

func TestDefaults(t *testing.T) {
	set := rules.MustBuildDefaults()
	require.Equal(t, 3, set.Len())

	cases := []struct {
		name string
		v    features.Vector
		want []string
	}{
		{name: "quiet", v: vector(150, 1, 0, 0), want: []string{}},
		{name: "spike", v: vector(900, 4.5, 0, 0), want: []string{"amount_spike"}},
		{name: "ratio at 3 does not fire", v: vector(300, 3, 0, 0), want: []string{}},
		{name: "odd amount", v: vector(155, 1, 5, 0), want: []string{"non_round_amount"}},
		{name: "new location", v: vector(150, 1, 0, 1), want: []string{"new_location"}},
		{name: "all", v: vector(1555, 5, 5, 1), want: []string{"amount_spike", "non_round_amount", "new_location"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms, err := set.Evaluate(tc.v)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(ms))
		})
	}
}

func TestBuild_SkipsDisabled(t *testing.T) {
	set, err := rules.Build([]config.BoostDef{
		{ID: "a", Expression: "amount > 1", Points: 1},
		{ID: "b", Expression: "amount > 1", Points: 2, Disabled: true},
	})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "a", set.Rules()[0].ID())
	assert.Equal(t, "amount > 1", set.Rules()[0].Expression())
	assert.Equal(t, 1.0, set.Rules()[0].Points())
}

func TestBuild_RejectsUnknownFacts(t *testing.T) {
	_, err := rules.Build([]config.BoostDef{{ID: "x", Expression: "payload.amount > 1", Points: 1}})
	assert.ErrorContains(t, err, `unknown fact "payload.amount"`)

	_, err = rules.Build([]config.BoostDef{{ID: "y", Expression: "amount >", Points: 1}})
	assert.Error(t, err)
}

func TestMetaFacts(t *testing.T) {
	set, err := rules.Build([]config.BoostDef{
		{ID: "student_big", Expression: `meta.account_type == "STUDENT" AND amount > meta.account_limit / 2`, Points: 7},
	})
	require.NoError(t, err)

	ms, err := set.Evaluate(vector(3000, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []rules.Match{{RuleID: "student_big", Points: 7}}, ms)

	ms, err = set.Evaluate(vector(2000, 1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestDefaults_SmallestStorableRemainderIsNotRound(t *testing.T) {
	set := rules.MustBuildDefaults()

	ms, err := set.Evaluate(vector(150.000001, 1, 0.000001, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"non_round_amount"}, ids(ms))
}
