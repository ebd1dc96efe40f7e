// Package rtc holds the WebRTC settings handed to clients. Media never
// flows through the relay; peers connect to each other directly.
package rtc

import (
	"fmt"

	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// WebRTCConfig builds the peer configuration from settings. Every URL must
// be a valid stun, stuns, turn or turns URI; TURN servers need credentials.
func WebRTCConfig(servers []config.ICEServer) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return webrtc.Configuration{}, fmt.Errorf("ice server %d: no urls", i)
		}
		for _, raw := range s.URLs {
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return webrtc.Configuration{}, fmt.Errorf("ice server %d: %q: %w", i, raw, err)
			}
			turn := uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS
			if turn && (s.Username == "" || s.Credential == "") {
				return webrtc.Configuration{}, fmt.Errorf("ice server %d: %q needs username and credential", i, raw)
			}
		}
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	log.Info().Str("module", "webrtc").Int("ice_servers", len(out.ICEServers)).Msg("ice config ready")
	return out, nil
}

// ClientICEServers converts the configuration to the wire form sent in
// voice_members and served over HTTP.
func ClientICEServers(cfg webrtc.Configuration) []protocol.ICEServer {
	out := make([]protocol.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		cs := protocol.ICEServer{URLs: s.URLs, Username: s.Username}
		if cred, ok := s.Credential.(string); ok {
			cs.Credential = cred
		}
		out = append(out, cs)
	}
	return out
}
