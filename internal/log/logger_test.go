// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Configure is once-guarded for the whole process, so every test shares
// one captured sink.
var (
	sinkMu sync.Mutex
	sink   bytes.Buffer
)

func captureLine(t *testing.T, emit func()) map[string]any {
	t.Helper()
	sinkMu.Lock()
	defer sinkMu.Unlock()

	Configure(Config{Level: "debug", Output: &sink, Service: "matchtrail-test"})
	sink.Reset()
	emit()

	line := bytes.TrimSpace(sink.Bytes())
	require.NotEmpty(t, line)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(line, &fields))
	return fields
}

func TestBase_CarriesServiceAndTimestamp(t *testing.T) {
	fields := captureLine(t, func() {
		l := Base()
		l.Info().Msg("hello")
	})
	assert.Equal(t, "matchtrail-test", fields["service"])
	assert.Equal(t, "hello", fields["message"])
	assert.Contains(t, fields, "time")
}

func TestWithComponent(t *testing.T) {
	fields := captureLine(t, func() {
		l := WithComponent("correlator")
		l.Warn().Msg("slow batch")
	})
	assert.Equal(t, "correlator", fields[FieldComponent])
	assert.Equal(t, "warn", fields["level"])
}

func TestDerive(t *testing.T) {
	fields := captureLine(t, func() {
		l := Derive(func(c *zerolog.Context) {
			*c = c.Str(FieldQueueURL, "https://example.com/q")
		})
		l.Info().Msg("derived")
	})
	assert.Equal(t, "https://example.com/q", fields[FieldQueueURL])
}

func TestWithContext_CorrelationRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "corr-42")
	assert.Equal(t, "corr-42", CorrelationIDFromContext(ctx))

	fields := captureLine(t, func() {
		l := WithContext(ctx, Base())
		l.Info().Msg("paired")
	})
	assert.Equal(t, "corr-42", fields[FieldCorrelationID])
}

func TestCorrelationIDFromContext_Absent(t *testing.T) {
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, CorrelationIDFromContext(nil)) //nolint:staticcheck // nil tolerance is part of the contract
}
