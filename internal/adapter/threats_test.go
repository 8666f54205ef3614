package adapter

import (
	"testing"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/stretchr/testify/require"
)

func testThreats(t *testing.T) *config.Threats {
	t.Helper()

	threats, err := config.LoadThreats("")
	require.NoError(t, err)
	return threats
}
