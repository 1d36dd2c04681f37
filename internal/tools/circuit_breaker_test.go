package tools

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/pkg/schema"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	assert.Equal(t, CircuitClosed, r.GetState("project.plan.sync"))
	assert.NoError(t, r.AllowRequest("project.plan.sync"))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	assert.Equal(t, CircuitClosed, r.RecordFailure("test.execution.run"))
	assert.Equal(t, CircuitClosed, r.RecordFailure("test.execution.run"))
	assert.Equal(t, CircuitOpen, r.RecordFailure("test.execution.run"))

	err := r.AllowRequest("test.execution.run")
	require.Error(t, err)

	var acErr *schema.AgentCoreError
	require.True(t, errors.As(err, &acErr))
	assert.Equal(t, schema.ErrCodeCircuitOpen, acErr.Code)
	assert.Equal(t, "test.execution.run", acErr.Details["tool"])
}

func TestCircuitBreakerIsolatesTools(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	for i := 0; i < 3; i++ {
		r.RecordFailure("test.execution.run")
	}

	assert.Equal(t, CircuitOpen, r.GetState("test.execution.run"))
	assert.Equal(t, CircuitClosed, r.GetState("project.plan.sync"))
	assert.NoError(t, r.AllowRequest("project.plan.sync"))
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	r.RecordFailure("project.plan.sync")
	r.RecordFailure("project.plan.sync")
	r.RecordSuccess("project.plan.sync")

	// Two more failures should not reach the threshold again.
	assert.Equal(t, CircuitClosed, r.RecordFailure("project.plan.sync"))
	assert.Equal(t, CircuitClosed, r.RecordFailure("project.plan.sync"))
}

func TestCircuitBreakerHalfOpenAfterCooldown(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	for i := 0; i < 3; i++ {
		r.RecordFailure("test.execution.run")
	}
	require.Error(t, r.AllowRequest("test.execution.run"))

	time.Sleep(60 * time.Millisecond)

	// First request after cooldown is the probe.
	assert.NoError(t, r.AllowRequest("test.execution.run"))
	// Second concurrent probe is rejected.
	assert.Error(t, r.AllowRequest("test.execution.run"))
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	for i := 0; i < 3; i++ {
		r.RecordFailure("test.execution.run")
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, r.AllowRequest("test.execution.run"))

	assert.Equal(t, CircuitOpen, r.RecordFailure("test.execution.run"))
	assert.Error(t, r.AllowRequest("test.execution.run"))
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())

	for i := 0; i < 3; i++ {
		r.RecordFailure("test.execution.run")
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, r.AllowRequest("test.execution.run"))

	r.RecordSuccess("test.execution.run")
	assert.Equal(t, CircuitClosed, r.GetState("test.execution.run"))
	assert.NoError(t, r.AllowRequest("test.execution.run"))
}

func TestCircuitBreakerStats(t *testing.T) {
	r := NewCircuitBreakerRegistry(testBreakerConfig())
	r.RecordFailure("project.plan.sync")

	stats := r.GetStats("project.plan.sync")
	assert.Equal(t, "project.plan.sync", stats["tool"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 1, stats["consecutive_failures"])
}

func TestBreakerConfigFromPolicy(t *testing.T) {
	cfg := BreakerConfigFromPolicy(policy.BreakerPolicy{
		FailureThreshold: 5,
		CooldownMs:       60000,
	})
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Cooldown)
	assert.Equal(t, 1, cfg.HalfOpenMax)

	// Unset fields keep the defaults.
	cfg = BreakerConfigFromPolicy(policy.BreakerPolicy{})
	assert.Equal(t, DefaultCircuitBreakerConfig(), cfg)
}
