// SPDX-License-Identifier: MIT

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Query(t *testing.T) {
	body := []byte(`{"eventType":"query","correlationId":"c1","occurredAt":1724995200000,"query":"Python experience?","metadata":{"team":"hiring"}}`)

	ev, err := Decode(body)
	require.NoError(t, err)

	q, ok := ev.(QueryEvent)
	require.True(t, ok, "expected QueryEvent, got %T", ev)
	assert.Equal(t, "c1", q.CorrelationID)
	assert.Equal(t, int64(1724995200000), q.OccurredAt)
	assert.Equal(t, "Python experience?", q.Query)
	assert.Equal(t, KindQuery, q.Kind())
}

func TestDecode_Response(t *testing.T) {
	body := []byte(`{"eventType":"response","correlationId":"c1","occurredAt":1724995200050,"matchType":"full","matchScore":95,"reasoning":"strong overlap","matchCount":3}`)

	ev, err := Decode(body)
	require.NoError(t, err)

	r, ok := ev.(ResponseEvent)
	require.True(t, ok, "expected ResponseEvent, got %T", ev)
	assert.Equal(t, MatchFull, r.MatchType)
	assert.Equal(t, 95, r.MatchScore)
	assert.Equal(t, 3, r.MatchCount)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"eventType":"audit","correlationId":"c1"}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode([]byte(`{"correlationId":"c1"}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEncode_ForcesDiscriminator(t *testing.T) {
	// A zero EventType must not leak onto the wire.
	body, err := Encode(QueryEvent{CorrelationID: "c1", OccurredAt: 1, Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"eventType":"query"`)

	body, err = Encode(ResponseEvent{CorrelationID: "c1", OccurredAt: 2, MatchType: MatchNone})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"eventType":"response"`)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := ResponseEvent{
		CorrelationID: "c42",
		OccurredAt:    1724995200050,
		MatchType:     MatchPartial,
		MatchScore:    61,
		Reasoning:     "some overlap",
	}

	body, err := Encode(in)
	require.NoError(t, err)

	ev, err := Decode(body)
	require.NoError(t, err)

	out, ok := ev.(ResponseEvent)
	require.True(t, ok)
	out.EventType = "" // discriminator is transport detail
	assert.Equal(t, in, out)
}

func TestValidate_Query(t *testing.T) {
	assert.NoError(t, QueryEvent{CorrelationID: "c1", OccurredAt: 1}.Validate())
	assert.Error(t, QueryEvent{OccurredAt: 1}.Validate())
	assert.Error(t, QueryEvent{CorrelationID: "c1"}.Validate())
}

func TestValidate_Response(t *testing.T) {
	valid := ResponseEvent{CorrelationID: "c1", OccurredAt: 1, MatchType: MatchFull, MatchScore: 100}
	assert.NoError(t, valid.Validate())

	for name, ev := range map[string]ResponseEvent{
		"empty correlation": {OccurredAt: 1, MatchType: MatchFull},
		"bad match type":    {CorrelationID: "c1", OccurredAt: 1, MatchType: "excellent"},
		"score too high":    {CorrelationID: "c1", OccurredAt: 1, MatchType: MatchFull, MatchScore: 101},
		"score negative":    {CorrelationID: "c1", OccurredAt: 1, MatchType: MatchFull, MatchScore: -1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ev.Validate())
		})
	}
}

func TestDedupID(t *testing.T) {
	a := DedupID("c1", KindQuery, 1000)
	b := DedupID("c1", KindQuery, 1000)
	assert.Equal(t, a, b, "identical logical events must collapse to one dedup key")
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, DedupID("c1", KindResponse, 1000))
	assert.NotEqual(t, a, DedupID("c2", KindQuery, 1000))
	assert.NotEqual(t, a, DedupID("c1", KindQuery, 1001))
}
