package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpflow/mcpflow/internal/config"
)

type stubLoader struct{}

func (s *stubLoader) Load(_ string) (*config.Config, error) {
	return &config.Config{}, nil
}

func TestNewOptions_Defaults(t *testing.T) {
	t.Parallel()

	opts, err := NewOptions()
	require.NoError(t, err)
	require.IsType(t, &config.DefaultLoader{}, opts.ConfigLoader)
}

func TestNewOptions_WithConfigLoader(t *testing.T) {
	t.Parallel()

	loader := &stubLoader{}
	opts, err := NewOptions(WithConfigLoader(loader))
	require.NoError(t, err)
	require.Same(t, loader, opts.ConfigLoader)
}

func TestNewOptions_SkipsNilOptions(t *testing.T) {
	t.Parallel()

	opts, err := NewOptions(nil, WithConfigLoader(&stubLoader{}), nil)
	require.NoError(t, err)
	require.IsType(t, &stubLoader{}, opts.ConfigLoader)
}

func TestNewOptions_PropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := NewOptions(func(_ *CmdOptions) error { return boom })
	require.ErrorIs(t, err, boom)
}
