package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsReachEntries(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "recaption-test"})

	ctx := log.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetRunID(ctx, "run-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "run-1", GetFieldString(ctx, FieldRunID))

	With(Fields{FieldCount: 3}).WithLoss(0.5).Info(ctx, "trained %d rows", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trained 3 rows", entry["message"])
	assert.Equal(t, "recaption-test", entry["service"])
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "run-1", entry[FieldRunID])
	assert.EqualValues(t, 3, entry[FieldCount])
	assert.EqualValues(t, 0.5, entry[FieldLoss])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Output: &buf})
	ctx := log.WithContext(context.Background())

	CtxInfo(ctx, "hidden")
	assert.Zero(t, buf.Len())
	CtxWarn(ctx, "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
}

func TestEnvReader(t *testing.T) {
	env := envReader(func(key string) string {
		return map[string]string{"A": "x", "B": "true", "C": "7", "D": "nope"}[key]
	})
	assert.Equal(t, "x", env.str("A", "d"))
	assert.Equal(t, "d", env.str("MISSING", "d"))
	assert.True(t, env.boolean("B", false))
	assert.True(t, env.boolean("D", true))
	assert.Equal(t, 7, env.integer("C", 1))
	assert.Equal(t, 1, env.integer("D", 1))
}
