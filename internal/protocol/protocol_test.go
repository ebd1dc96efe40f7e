package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTripKeepsShape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		num  bool
	}{
		{"number", `5`, "5", true},
		{"numeric string", `"5"`, "5", false},
		{"string", `"abc"`, "abc", false},
		{"leading zero string", `"007"`, "007", false},
		{"beyond int64", `12345678901234567890`, "12345678901234567890", true},
		{"decimal", `1.5`, "1.5", true},
		{"negative", `-3`, "-3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.in), &id))
			assert.Equal(t, tt.key, id.String())
			assert.Equal(t, tt.num, id.Numeric())
			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, tt.in, string(out))
		})
	}
}

func TestIDNormalizesToOneKey(t *testing.T) {
	var num, str ID
	require.NoError(t, json.Unmarshal([]byte(`5`), &num))
	require.NoError(t, json.Unmarshal([]byte(`"5"`), &str))
	assert.NotEqual(t, num, str)
	assert.Equal(t, num.String(), str.String())
}

func TestIDEdgeCases(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.True(t, id.IsZero())
	out, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))

	assert.True(t, NumberID("42").Numeric())
	assert.False(t, NumberID("4x2").Numeric())
	out, err = json.Marshal(NumberID("4x2"))
	require.NoError(t, err)
	assert.Equal(t, `"4x2"`, string(out))

	b, err := json.Marshal(ChannelPresence{ChannelID: StringID("5"), UserID: NumberID("9"), Username: "ann"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"channelId":"5","userId":9,"username":"ann"}`, string(b))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, EventPing, env.Type)
	assert.Equal(t, Version, env.V)

	_, err = DecodeEnvelope([]byte(`{not json`))
	assertCode(t, err, CodeBadPayload)

	_, err = DecodeEnvelope([]byte(`{"v":1}`))
	assertCode(t, err, CodeBadPayload)

	_, err = DecodeEnvelope([]byte(`{"type":"ping","v":2}`))
	assertCode(t, err, CodeUnsupportedVersion)
}

func TestDecodeDataValidates(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		dst   any
		ok    bool
	}{
		{"authenticate", EventAuthenticate, `{"userId":7,"username":"ann"}`, &Authenticate{}, true},
		{"authenticate without username", EventAuthenticate, `{"userId":7}`, &Authenticate{}, false},
		{"missing data", EventJoinChannel, ``, &JoinChannel{}, false},
		{"join channel", EventJoinChannel, `{"channelId":5,"serverId":"1"}`, &JoinChannel{}, true},
		{"empty channel id", EventJoinChannel, `{"channelId":""}`, &JoinChannel{}, false},
		{"channel id too long", EventJoinChannel, `{"channelId":` + strings.Repeat("9", 65) + `}`, &JoinChannel{}, false},
		{"new message", EventNewMessage, `{"channelId":5,"messageData":{"text":"hi"}}`, &NewMessage{}, true},
		{"new message without data", EventNewMessage, `{"channelId":5}`, &NewMessage{}, false},
		{"status", EventUpdateStatus, `{"status":"idle"}`, &UpdateStatus{}, true},
		{"unknown status", EventUpdateStatus, `{"status":"offline"}`, &UpdateStatus{}, false},
		{"offer", EventWebRTCOffer, `{"to":"b","offer":{"type":"offer","sdp":"v=0"}}`, &Offer{}, true},
		{"offer with answer sdp", EventWebRTCOffer, `{"to":"b","offer":{"type":"answer","sdp":"v=0"}}`, &Offer{}, false},
		{"offer without sdp", EventWebRTCOffer, `{"to":"b","offer":{"type":"offer","sdp":""}}`, &Offer{}, false},
		{"answer", EventWebRTCAnswer, `{"to":"a","answer":{"type":"answer","sdp":"v=0"}}`, &Answer{}, true},
		{"candidate", EventWebRTCCandidate, `{"to":"a","candidate":{"candidate":"candidate:1 1 UDP 1 1.2.3.4 5 typ host","sdpMid":"0"}}`, &ICECandidate{}, true},
		{"candidate without target", EventWebRTCCandidate, `{"candidate":{"candidate":""}}`, &ICECandidate{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: tt.event, V: Version, Data: json.RawMessage(tt.data)}
			err := DecodeData(env, tt.dst)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assertCode(t, err, CodeBadPayload)
			}
		})
	}
}

func TestDecodeDataKeepsOfferIntact(t *testing.T) {
	env := Envelope{Type: EventWebRTCOffer, Data: json.RawMessage(`{"to":42,"offer":{"type":"offer","sdp":"v=0\r\n"}}`)}
	var p Offer
	require.NoError(t, DecodeData(env, &p))
	assert.Equal(t, NumberID("42"), p.To)
	assert.Equal(t, webrtc.SDPTypeOffer, p.Offer.Type)
	assert.Equal(t, "v=0\r\n", p.Offer.SDP)
}

func TestEncode(t *testing.T) {
	b, err := Encode(EventMessageReceived, MessageReceived{
		ChannelID: NumberID("5"),
		Message:   json.RawMessage(`{"text":"hi"}`),
		UserID:    StringID("a"),
		Username:  "ann",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_received","v":1,"data":{"channelId":5,"message":{"text":"hi"},"userId":"a","username":"ann"}}`, string(b))

	b, err = Encode(EventPong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","v":1}`, string(b))
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "expected protocol error, got %v", err)
	assert.Equal(t, code, perr.Code)
}
