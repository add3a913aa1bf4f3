package osrfmsg

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/fabricerr"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithAmbient(context.Background(), "en-AU", "ws-translator-v3")
	params := []Value{}
	for _, p := range []any{1, "two", nil} {
		v, err := NewValue(p)
		require.NoError(t, err)
		params = append(params, v)
	}

	cases := []Message{
		NewRequest(ctx, 1, "opensrf.system.echo", params),
		NewResult(ctx, 1, mustValue(t, "two")),
		NewStatus(ctx, 1, fabricerr.CodeComplete, ""),
		NewConnect(ctx, 0),
		NewDisconnect(ctx, 0),
		NewPartialResult(ctx, 2, `{"a":`, false),
		NewPartialResult(ctx, 2, `1}`, true),
	}

	for _, want := range cases {
		b, err := want.MarshalJSON()
		require.NoError(t, err)

		var got Message
		require.NoError(t, got.UnmarshalJSON(b))

		if diff := cmp.Diff(want, got, cmp.Comparer(valuesEqual)); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
		require.Equal(t, "en-AU", got.Locale)
		require.Equal(t, "ws-translator-v3", got.Ingress)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	t.Parallel()

	var m Message
	err := m.UnmarshalJSON([]byte(`{"thread_trace": 1}`))
	require.Error(t, err)

	var ferr *fabricerr.Error
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, fabricerr.CodeBadRequest, ferr.Code)
}

func TestTransportMessageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	want := NewTransportMessage(
		"opensrf:client:user:domain:svc:nonce",
		"opensrf:service:user:domain:svc",
		"thread-abc123456789",
		NewResult(ctx, 1, mustValue(t, 42)),
		NewStatus(ctx, 1, fabricerr.CodeComplete, ""),
	)
	want.OSRFXid = "log-xid-1"

	b, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)

	require.Equal(t, want.To, got.To)
	require.Equal(t, want.From, got.From)
	require.Equal(t, want.Thread, got.Thread)
	require.Equal(t, want.OSRFXid, got.OSRFXid)
	require.Len(t, got.Body, 2)
}

func TestDecodeRejectsMissingAddressing(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"body": []}`))
	require.Error(t, err)
}

func mustValue(t *testing.T, v any) Value {
	t.Helper()
	val, err := NewValue(v)
	require.NoError(t, err)
	return val
}

func valuesEqual(a, b Value) bool {
	return string(a.raw) == string(b.raw)
}
