package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypeValidate(t *testing.T) {
	for _, typ := range []Type{TypePersistent, TypeScheduled, TypeOnDemand, TypeReactive} {
		assert.NoError(t, typ.Validate(), typ)
	}
	assert.Error(t, Type("cron").Validate())

	assert.True(t, TypePersistent.HasLoop())
	assert.True(t, TypeScheduled.HasLoop())
	assert.False(t, TypeOnDemand.HasLoop())
	assert.False(t, TypeReactive.HasLoop())
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Error(t, Priority("urgent").Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults are valid", Config{Name: "a"}, false},
		{"missing name", Config{}, true},
		{"negative tokens", Config{Name: "a", MaxTokensPerRun: -1}, true},
		{"negative interval", Config{Name: "a", ScheduleInterval: -time.Second}, true},
		{"negative retries", Config{Name: "a", MaxRetries: -1}, true},
		{"bad priority", Config{Name: "a", Priority: "urgent"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllowsTool(t *testing.T) {
	cfg := Config{Name: "a", AllowedTools: map[string]bool{"web_search": true}}
	assert.True(t, cfg.AllowsTool("web_search"))
	assert.False(t, cfg.AllowsTool("shell"))

	unrestricted := Config{Name: "b"}
	assert.True(t, unrestricted.AllowsTool("shell"))
}

func TestFailure(t *testing.T) {
	result := Failure("timeout after %s", "1s")
	assert.False(t, result.Success)
	assert.Equal(t, "timeout after 1s", result.Error)
}
