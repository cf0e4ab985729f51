package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FillsDefaults(t *testing.T) {
	c, err := Parse([]byte("kafka:\n  brokers: [\"k1:9092\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "detection-results", c.Kafka.Topics.DetectionResults)
	assert.Equal(t, "PT1S", c.Merger.MergeMaxGap)
	assert.Equal(t, "P7D", c.Merger.MergeMaxDuration)
	assert.Equal(t, 2*time.Minute, c.Merger.LockTTL)
	assert.Equal(t, 24*time.Hour, c.Merger.StatusTTL)
	assert.Equal(t, 64, c.Stream.SendBuffer)
	assert.Equal(t, -1.0, c.Merger.PercentageThreshold())
	assert.Equal(t, -1.0, c.Merger.AbsoluteThreshold())
}

func TestParse_KeepsExplicitZeroThreshold(t *testing.T) {
	c, err := Parse([]byte(`
kafka:
  brokers: ["k1:9092"]
merger:
  renotify_percentage_threshold: 0
  renotify_absolute_threshold: 2.5
`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Merger.PercentageThreshold())
	assert.Equal(t, 2.5, c.Merger.AbsoluteThreshold())
}

func TestParse_RejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("environment: mars\nkafka:\n  brokers: [\"k\"]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("environment: production\n"))
	assert.Error(t, err, "brokers are required")
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, writeFile(path, "kafka:\n  brokers: [\"k1:9092\"]\n"))

	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, c.Kafka.Brokers)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "debug", c.Logging.Level)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestParse_ExplicitFalseWins(t *testing.T) {
	c, err := Parse([]byte("kafka:\n  brokers: [\"k\"]\nredis:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, c.Redis.Enabled)
	assert.True(t, c.Metrics.Enabled)
}
