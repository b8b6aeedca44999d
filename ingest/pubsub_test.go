package ingest

import (
	"encoding/base64"
	"testing"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushBody(data string) []byte {
	return []byte(`{"message":{"data":"` + data + `","messageId":"m-1"},"subscription":"projects/p/subscriptions/s"}`)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodePushEnvelope(t *testing.T) {
	env, payload, err := DecodePushEnvelope(pushBody(b64(`{"textPayload":"hello"}`)))
	require.NoError(t, err)
	assert.Equal(t, "m-1", env.Message.MessageID)
	assert.Equal(t, map[string]interface{}{"textPayload": "hello"}, payload)
}

func TestDecodePushEnvelopeURLSafeBase64(t *testing.T) {
	data := base64.RawURLEncoding.EncodeToString([]byte(`{"a":"??>>"}`))
	_, payload, err := DecodePushEnvelope(pushBody(data))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "??>>"}, payload)
}

func TestDecodePushEnvelopeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json body": []byte(`hello`),
		"missing data":  []byte(`{"message":{}}`),
		"bad base64":    pushBody("%%%not-base64%%%"),
		"not json data": pushBody(b64("not json")),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodePushEnvelope(body)
			assert.ErrorIs(t, err, core.ErrMalformedEnvelope)
		})
	}
}

func TestExpandEntries(t *testing.T) {
	single := map[string]interface{}{"textPayload": "one"}
	assert.Equal(t, []interface{}{single}, ExpandEntries(single))

	list := []interface{}{single, single}
	assert.Len(t, ExpandEntries(list), 2)

	wrapped := map[string]interface{}{"entries": []interface{}{single, single, single}}
	assert.Len(t, ExpandEntries(wrapped), 3)

	assert.Empty(t, ExpandEntries(nil))
	assert.Empty(t, ExpandEntries([]interface{}{}))
	assert.Equal(t, []interface{}{"text"}, ExpandEntries("text"))
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := map[string]interface{}{"x": 1.0, "y": "two"}
	b := map[string]interface{}{"y": "two", "x": 1.0}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(map[string]interface{}{"x": 2.0}))
}
