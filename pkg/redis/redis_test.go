package redis

import (
	"testing"

	"smallbiznis-licensing/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewWithoutAddr(t *testing.T) {
	zap.ReplaceGlobals(zap.NewNop())
	lc := fxtest.NewLifecycle(t)

	require.Nil(t, New(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}
