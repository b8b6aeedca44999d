package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vigil/core"

	"github.com/cespare/xxhash/v2"
)

// MaxPushBodySize bounds push delivery bodies
const MaxPushBodySize = 4 * 1024 * 1024

// PushEnvelope is the body of a Pub/Sub push delivery
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePushEnvelope parses the envelope and returns it with the decoded
// JSON payload. Every failure wraps core.ErrMalformedEnvelope.
func DecodePushEnvelope(body []byte) (*PushEnvelope, interface{}, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: envelope is not JSON: %v", core.ErrMalformedEnvelope, err)
	}

	data := strings.TrimSpace(env.Message.Data)
	if data == "" {
		return &env, nil, fmt.Errorf("%w: message.data is empty", core.ErrMalformedEnvelope)
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return &env, nil, fmt.Errorf("%w: message.data is not base64: %v", core.ErrMalformedEnvelope, err)
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &env, nil, fmt.Errorf("%w: message.data is not JSON: %v", core.ErrMalformedEnvelope, err)
	}
	return &env, payload, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ExpandEntries flattens the payload shapes a log sink may publish: an
// object with an "entries" list, a bare list, or a single entry.
func ExpandEntries(payload interface{}) []interface{} {
	switch v := payload.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case map[string]interface{}:
		if entries, ok := v["entries"].([]interface{}); ok {
			return entries
		}
		return []interface{}{v}
	default:
		return []interface{}{v}
	}
}

// Fingerprint identifies an entry for dedup. Map keys are serialized in
// sorted order, so equal entries hash equally regardless of field order.
func Fingerprint(entry interface{}) string {
	return strconv.FormatUint(xxhash.Sum64String(serialize(entry)), 16)
}
