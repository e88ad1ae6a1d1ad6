package folka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.Version == sarama.V2_0_0_0)
	require.True(t, cfg.Consumer.Return.Errors)
	require.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
	require.Equal(t, CopartitioningStrategy, cfg.Consumer.Group.Rebalance.Strategy)
	require.True(t, cfg.Producer.Return.Successes)
	require.True(t, cfg.Producer.Return.Errors)
}

func TestReplaceGlobalConfig(t *testing.T) {
	custom := DefaultConfig()
	custom.Version = sarama.V0_10_2_0
	ReplaceGlobalConfig(custom)
	defer ReplaceGlobalConfig(DefaultConfig())

	require.Equal(t, custom.Version, globalConfig.Version)

	require.Panics(t, func() { ReplaceGlobalConfig(nil) })
}
