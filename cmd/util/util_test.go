package util

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	out := WrapString(strings.Repeat("word ", 40))
	for _, line := range strings.Split(out, "\n") {
		require.LessOrEqual(t, len(line), Wrap)
	}
}

func TestTransportFlagsRoundTrip(t *testing.T) {
	t.Cleanup(viper.Reset)
	cmd := &cobra.Command{Use: "test"}
	SetupTransportFlags(cmd, true)
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--transport-workers=7", "--transport-block-size=128", "--transport-backlog=64"}))
	require.NoError(t, viper.BindPFlags(cmd.PersistentFlags()))

	c := GetTransportConfig(true)
	require.Equal(t, 7, c.Workers)
	require.Equal(t, 128*1024, c.MaxBlockSize)
	require.Equal(t, 64, c.ListenBacklog)
	require.NoError(t, c.Validate())
}
