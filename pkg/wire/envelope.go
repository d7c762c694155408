// Package wire implements the tagged envelope used to carry non-JSON-native
// values (raw bytes, timestamps, durations) across the JSON-RPC boundary
// described in spec §4.9 and §6. Dynamic typing at the wire boundary maps
// to a discriminated union keyed by "__type__"; receiving an untagged value
// where a tagged one is required is a VALIDATION_ERROR, never a silent
// coercion.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

const (
	typeBytes     = "bytes"
	typeDatetime  = "datetime"
	typeTimedelta = "timedelta"
)

type envelope struct {
	Type    string  `json:"__type__"`
	Data    *string `json:"data,omitempty"`
	Seconds *float64 `json:"seconds,omitempty"`
}

// EncodeBytes renders b as a tagged bytes envelope.
func EncodeBytes(b []byte) ([]byte, error) {
	s := base64.StdEncoding.EncodeToString(b)
	return json.Marshal(envelope{Type: typeBytes, Data: &s})
}

// DecodeBytes parses raw into a byte slice. raw must be a tagged bytes
// envelope ({"__type__":"bytes","data":"<base64>"}); a bare base64 string
// is rejected explicitly (spec S6) rather than silently accepted.
func DecodeBytes(raw json.RawMessage) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errtypes.Validation("bytes value must be a tagged {\"__type__\":\"bytes\"} envelope: " + err.Error())
	}
	if env.Type != typeBytes || env.Data == nil {
		return nil, errtypes.Validation("expected a {\"__type__\":\"bytes\"} envelope, got an untagged value")
	}
	b, err := base64.StdEncoding.DecodeString(*env.Data)
	if err != nil {
		return nil, errtypes.Validation("invalid base64 payload: " + err.Error())
	}
	return b, nil
}

// EncodeTime renders t as a tagged datetime envelope in ISO-8601.
func EncodeTime(t time.Time) ([]byte, error) {
	s := t.UTC().Format(time.RFC3339Nano)
	return json.Marshal(envelope{Type: typeDatetime, Data: &s})
}

// DecodeTime parses raw into a time.Time.
func DecodeTime(raw json.RawMessage) (time.Time, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, errtypes.Validation("datetime value must be a tagged envelope: " + err.Error())
	}
	if env.Type != typeDatetime || env.Data == nil {
		return time.Time{}, errtypes.Validation("expected a {\"__type__\":\"datetime\"} envelope")
	}
	t, err := time.Parse(time.RFC3339Nano, *env.Data)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, *env.Data); err2 == nil {
			return t2, nil
		}
		return time.Time{}, errtypes.Validation("invalid ISO-8601 timestamp: " + err.Error())
	}
	return t, nil
}

// EncodeDuration renders d as a tagged timedelta envelope.
func EncodeDuration(d time.Duration) ([]byte, error) {
	secs := d.Seconds()
	return json.Marshal(envelope{Type: typeTimedelta, Seconds: &secs})
}

// DecodeDuration parses raw into a time.Duration.
func DecodeDuration(raw json.RawMessage) (time.Duration, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, errtypes.Validation("timedelta value must be a tagged envelope: " + err.Error())
	}
	if env.Type != typeTimedelta || env.Seconds == nil {
		return 0, errtypes.Validation("expected a {\"__type__\":\"timedelta\"} envelope")
	}
	return time.Duration(*env.Seconds * float64(time.Second)), nil
}
