package tonconnect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const testRawAddr = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

func TestEventTypeFromMethod(t *testing.T) {
	t.Parallel()

	for _, et := range AllEventTypes {
		got, ok := EventTypeFromMethod(string(et))
		require.True(t, ok)
		require.Equal(t, et, got)
	}

	_, ok := EventTypeFromMethod("restoreConnection")
	require.False(t, ok)
}

func TestRawEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, RawEvent{ID: "1", Method: "connect"}.Validate())
	require.Error(t, RawEvent{Method: "connect"}.Validate())
	require.Error(t, RawEvent{ID: "1", Method: "foo"}.Validate())
	require.Error(t, RawEvent{ID: "1", Method: "signData", Params: json.RawMessage(`{`)}.Validate())
}

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	t.Run("array of json string", func(t *testing.T) {
		t.Parallel()
		e := RawEvent{Params: json.RawMessage(`["{\"type\":\"text\",\"text\":\"hello\"}"]`)}
		var p SignDataPayload
		require.NoError(t, e.DecodeParams(&p))
		require.Equal(t, SignDataText, p.Type)
		require.Equal(t, "hello", p.Text)
	})

	t.Run("plain object", func(t *testing.T) {
		t.Parallel()
		e := RawEvent{Params: json.RawMessage(`{"manifestUrl":"https://app.example/m.json","items":[{"name":"ton_addr"}]}`)}
		var p ConnectParams
		require.NoError(t, e.DecodeParams(&p))
		require.Equal(t, "https://app.example/m.json", p.URL())
		require.Len(t, p.Items, 1)
	})

	t.Run("nested manifest", func(t *testing.T) {
		t.Parallel()
		e := RawEvent{Params: json.RawMessage(`{"manifest":{"url":"https://app.example/m.json"}}`)}
		var p ConnectParams
		require.NoError(t, e.DecodeParams(&p))
		require.Equal(t, "https://app.example/m.json", p.URL())
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var p ConnectParams
		require.Error(t, RawEvent{}.DecodeParams(&p))
		require.Error(t, RawEvent{Params: json.RawMessage(`[]`)}.DecodeParams(&p))
	})
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress(testRawAddr)
	require.NoError(t, err)
	require.Equal(t, testRawAddr, RawAddress(addr))

	friendly := addr.String()
	normalized, err := NormalizeAddress(friendly)
	require.NoError(t, err)
	require.Equal(t, testRawAddr, normalized)

	_, err = ParseAddress("not-an-address")
	require.Error(t, err)
}

func TestEncodeDNSDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "org\x00ton\x00", EncodeDNSDomain("ton.org"))
	require.Equal(t, "com\x00example\x00app\x00", EncodeDNSDomain("app.example.com."))
}

func TestTonProofHash(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress(testRawAddr)
	require.NoError(t, err)

	h1 := TonProofHash(addr, "app.example", 1700000000, "nonce")
	h2 := TonProofHash(addr, "app.example", 1700000000, "nonce")
	h3 := TonProofHash(addr, "app.example", 1700000001, "nonce")
	require.Len(t, h1, 32)
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestSignDataHash(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress(testRawAddr)
	require.NoError(t, err)

	text, err := SignDataHash(addr, "app.example", 1, SignDataPayload{Type: SignDataText, Text: "hi"})
	require.NoError(t, err)
	require.Len(t, text, 32)

	// "hi" as bytes must not collide with "hi" as text.
	bin, err := SignDataHash(addr, "app.example", 1, SignDataPayload{Type: SignDataBinary, Bytes: "aGk="})
	require.NoError(t, err)
	require.NotEqual(t, text, bin)

	_, err = SignDataHash(addr, "app.example", 1, SignDataPayload{Type: SignDataBinary, Bytes: "%%%"})
	require.Error(t, err)

	_, err = SignDataHash(addr, "app.example", 1, SignDataPayload{Type: "json"})
	require.Error(t, err)
}

func TestErrorCodeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BAD_REQUEST_ERROR", BadRequestError.String())
	require.Equal(t, "UNKNOWN_APP_ERROR", UnknownAppError.String())
	err := NewError(UserRejectsError, "user declined %s", "tx")
	require.Equal(t, "USER_REJECTS_ERROR: user declined tx", err.Error())
}

func TestParseNanotons(t *testing.T) {
	t.Parallel()

	v, err := ParseNanotons("1000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000", v.String())

	for _, bad := range []string{"", "1.5", "-1", "1e9", "ten"} {
		_, err := ParseNanotons(bad)
		require.Error(t, err, bad)
	}
}
