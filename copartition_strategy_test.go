package folka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"
)

func TestCopartitioningStrategy(t *testing.T) {
	require.Equal(t, "copartition", CopartitioningStrategy.Name())

	for _, ttest := range []struct {
		name      string
		members   map[string]sarama.ConsumerGroupMemberMetadata
		topics    map[string][]int32
		hasError  bool
		useStrict bool
		expected  sarama.BalanceStrategyPlan
	}{
		{
			name: "not-copartitioned",
			members: map[string]sarama.ConsumerGroupMemberMetadata{
				"M1": {Topics: []string{"T1", "T2"}},
			},
			topics: map[string][]int32{
				"T1": {0, 1, 2},
				"T2": {0, 1},
			},
			hasError: true,
		},
		{
			name: "inconsistent-members-strict",
			members: map[string]sarama.ConsumerGroupMemberMetadata{
				"M1": {Topics: []string{"T1", "T2"}},
				"M2": {Topics: []string{"T2"}},
			},
			topics: map[string][]int32{
				"T1": {0, 1, 2},
				"T2": {0, 1, 2},
			},
			hasError:  true,
			useStrict: true,
		},
		{
			name: "tolerate-inconsistent-members",
			members: map[string]sarama.ConsumerGroupMemberMetadata{
				"M1": {Topics: []string{"T1", "T2"}},
				"M2": {Topics: []string{"T2"}},
			},
			topics: map[string][]int32{
				"T1": {0, 1, 2},
				"T2": {0, 1, 2},
			},
			expected: sarama.BalanceStrategyPlan{
				"M1": map[string][]int32{
					"T1": {0, 1},
					"T2": {0, 1},
				},
				"M2": map[string][]int32{
					"T2": {2},
				},
			},
		},
		{
			name: "single-member",
			members: map[string]sarama.ConsumerGroupMemberMetadata{
				"M1": {Topics: []string{"T1"}},
			},
			topics: map[string][]int32{
				"T1": {0, 1, 2},
			},
			expected: sarama.BalanceStrategyPlan{
				"M1": map[string][]int32{
					"T1": {0, 1, 2},
				},
			},
		},
		{
			name: "two-members-even-split",
			members: map[string]sarama.ConsumerGroupMemberMetadata{
				"M1": {Topics: []string{"T1"}},
				"M2": {Topics: []string{"T1"}},
			},
			topics: map[string][]int32{
				"T1": {0, 1, 2, 3},
			},
			expected: sarama.BalanceStrategyPlan{
				"M1": map[string][]int32{
					"T1": {0, 1},
				},
				"M2": map[string][]int32{
					"T1": {2, 3},
				},
			},
		},
	} {
		t.Run(ttest.name, func(t *testing.T) {
			strategy := CopartitioningStrategy
			if ttest.useStrict {
				strategy = StrictCopartitioningStrategy
			}
			plan, err := strategy.Plan(ttest.members, ttest.topics)
			if ttest.hasError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ttest.expected, plan)
		})
	}
}
