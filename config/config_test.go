package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/fault"
)

func TestValidateRequiresTransports(t *testing.T) {
	var c Config
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input transport")
}

func TestValidateStdioRequiresCommand(t *testing.T) {
	c := Config{
		Input:  Side{Transport: TransportStdioParent},
		Output: Side{Transport: TransportStdioChild},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestValidateNetworkOutputRequiresURL(t *testing.T) {
	c := Config{
		Input:  Side{Transport: TransportStdioParent},
		Output: Side{Transport: TransportSSE},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestValidateErrorsAreConfigurationFaults(t *testing.T) {
	var c Config
	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, fault.Configuration, fault.KindOf(err))
	assert.Equal(t, 2, fault.ExitCode(err))
}

func TestValidateAcceptsStdioToSSE(t *testing.T) {
	c := Config{
		Input:  Side{Transport: TransportSSE, Addr: ":8000"},
		Output: Side{Transport: TransportStdioChild, Command: "./echo-mcp"},
	}
	assert.NoError(t, c.Validate())
}

func TestNormalizedAppliesDefaults(t *testing.T) {
	n := Config{}.Normalized()
	assert.Equal(t, 60*time.Second, n.SessionTimeout)
	assert.Equal(t, "/sse", n.Paths.SSEPath)
	assert.Equal(t, "/message", n.Paths.MessagePath)
	assert.Equal(t, "/mcp", n.Paths.StreamableHTTPPath)
	assert.Equal(t, 3, n.RetryAttempts)
	assert.Equal(t, 5, n.CircuitFailureThreshold)
	assert.Equal(t, 5*time.Second, n.GraceShutdown)
}

func TestNormalizedPreservesExplicitValues(t *testing.T) {
	n := Config{SessionTimeout: 500 * time.Millisecond, RetryAttempts: 1}.Normalized()
	assert.Equal(t, 500*time.Millisecond, n.SessionTimeout)
	assert.Equal(t, 1, n.RetryAttempts)
}

func TestFromEnvReadsPortAndOTLP(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	os.Unsetenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	os.Unsetenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")

	c := FromEnv(Config{})
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "http://collector:4318", c.OTLPEndpoint)
}

func TestFromEnvDoesNotOverrideExplicitValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	c := FromEnv(Config{Port: 1234})
	assert.Equal(t, 1234, c.Port)
}
