package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

// Version is the envelope schema version this relay speaks.
// An envelope without "v" is treated as Version.
const Version = 1

// Envelope frames every event in both directions:
//
//	{"type": "join_channel", "v": 1, "data": {"channelId": 5}}
type Envelope struct {
	Type string          `json:"type"`
	V    int             `json:"v,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Ids validate as their normalized string.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		return f.Interface().(ID).String()
	}, ID{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(Offer)
		checkSDP(sl, p.Offer, webrtc.SDPTypeOffer, "offer")
	}, Offer{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(Answer)
		checkSDP(sl, p.Answer, webrtc.SDPTypeAnswer, "answer")
	}, Answer{})
	return v
}

func checkSDP(sl validator.StructLevel, sd webrtc.SessionDescription, want webrtc.SDPType, field string) {
	if sd.Type != want {
		sl.ReportError(sd.Type, field, field, "sdp_type", want.String())
	}
	if strings.TrimSpace(sd.SDP) == "" {
		sl.ReportError(sd.SDP, field, field, "sdp", "")
	}
}

// Encode wraps payload in a versioned envelope.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event, V: Version}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses the outer frame. It does not look at Data.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, Errorf(CodeBadPayload, "invalid json")
	}
	if env.Type == "" {
		return Envelope{}, Errorf(CodeBadPayload, "missing type")
	}
	if env.V == 0 {
		env.V = Version
	}
	if env.V != Version {
		return env, Errorf(CodeUnsupportedVersion, "version %d is not supported", env.V)
	}
	return env, nil
}

// DecodeData unmarshals env.Data into dst and validates it.
func DecodeData(env Envelope, dst any) error {
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return Errorf(CodeBadPayload, "%s: invalid data", env.Type)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Errorf(CodeBadPayload, "%s: field %q failed %q", env.Type, verrs[0].Field(), verrs[0].Tag())
		}
		return Errorf(CodeBadPayload, "%s: %v", env.Type, err)
	}
	return nil
}
