package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionScopedChild struct{}

func (sessionScopedChild) IsSessionScoped() bool { return true }

type sharedChild struct{}

func (sharedChild) IsSessionScoped() bool { return false }

func TestApplyOverridesHeadersOnlyNoRestart(t *testing.T) {
	s := New("s1", "2024-11-05")
	result, err := s.ApplyOverrides(OverridesPatch{Headers: map[string]string{"X-Foo": "bar"}}, nil)
	require.NoError(t, err)
	assert.False(t, result.RestartRequested)
	assert.Equal(t, "bar", s.Overrides().Headers["X-Foo"])
}

func TestApplyOverridesEnvTriggersRestartWhenSessionScoped(t *testing.T) {
	s := New("s1", "2024-11-05")
	s.BindChild(sessionScopedChild{})

	restarted := false
	restart := func(o Overrides) error { restarted = true; return nil }

	result, err := s.ApplyOverrides(OverridesPatch{Env: map[string]string{"FOO": "BAR"}}, restart)
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.True(t, result.RestartRequested)
}

func TestApplyOverridesEnvRejectedWhenSharedChild(t *testing.T) {
	s := New("s1", "2024-11-05")
	s.BindChild(sharedChild{})

	_, err := s.ApplyOverrides(OverridesPatch{Headers: map[string]string{"X-Keep": "yes"}}, nil)
	require.NoError(t, err)

	_, err = s.ApplyOverrides(OverridesPatch{Env: map[string]string{"FOO": "BAR"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionScopeMismatch))

	// A rejected patch must leave the bag exactly as it was.
	after := s.Overrides()
	assert.Nil(t, after.Env)
	assert.Equal(t, "yes", after.Headers["X-Keep"])
}
