package app

import (
	"errors"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/metrics"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers encoded events to connections. Delivery is fire and
// forget: a frame is handed to the connection's bounded queue and nothing
// waits for the network.
type Dispatcher struct {
	Registry *Registry
	Index    *core.Index
	Policy   Policy
	Metrics  *metrics.Metrics
}

// Broadcast sends event to every member of room except exclude.
func (d *Dispatcher) Broadcast(room domain.RoomRef, event string, payload any, exclude domain.ConnID) core.PublishResult {
	frame, ok := d.encode(event, payload)
	if !ok {
		return core.PublishResult{}
	}
	var res core.PublishResult
	for _, p := range d.Index.Participants(room) {
		if p.ConnID() == exclude {
			continue
		}
		d.deliver(room, p, frame, &res)
	}
	d.record(event, room.String(), res)
	return res
}

// BroadcastAll sends event to every registered connection except exclude.
func (d *Dispatcher) BroadcastAll(event string, payload any, exclude domain.ConnID) core.PublishResult {
	frame, ok := d.encode(event, payload)
	if !ok {
		return core.PublishResult{}
	}
	var res core.PublishResult
	for _, c := range d.Registry.All() {
		if c.ID == exclude {
			continue
		}
		d.deliver(domain.RoomRef{}, c, frame, &res)
	}
	d.record(event, "*", res)
	return res
}

// Send delivers event to exactly one connection.
func (d *Dispatcher) Send(id domain.ConnID, event string, payload any) bool {
	c, ok := d.Registry.Get(id)
	if !ok {
		return false
	}
	frame, ok := d.encode(event, payload)
	if !ok {
		return false
	}
	var res core.PublishResult
	d.deliver(domain.RoomRef{}, c, frame, &res)
	d.record(event, string(id), res)
	return res.SendTo == 1
}

func (d *Dispatcher) encode(event string, payload any) (core.Frame, bool) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Str("event", event).Msg("encode failed")
		return nil, false
	}
	return core.Frame(b), true
}

func (d *Dispatcher) deliver(room domain.RoomRef, p core.Participant, frame core.Frame, res *core.PublishResult) {
	err := p.Signal().TrySend(frame)
	if err == nil {
		res.SendTo++
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.dispatcher").Str("conn", string(p.ConnID())).Msg("send to closed connection")
		return
	}
	res.Dropped = append(res.Dropped, p)
	if d.Policy == nil {
		return
	}
	switch d.Policy.OnBackPressure(room, p) {
	case KickMember:
		log.Warn().Str("module", "app.dispatcher").Str("conn", string(p.ConnID())).Msg("slow consumer kicked")
		p.Signal().Close()
	case MarkSlow, DropFrame, NoAction:
	}
}

func (d *Dispatcher) record(event, target string, res core.PublishResult) {
	d.Metrics.Delivered(res.SendTo)
	d.Metrics.Dropped(len(res.Dropped))
	log.Debug().Str("module", "app.dispatcher").Str("event", event).Str("target", target).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("publish result")
}
