// Command call-client-go drives a full WebRTC call between two in-process
// peers against a running presence-relay, exchanging every signaling message
// through the relay's WebSocket endpoint. It exits 0 once a data channel
// opens end to end.
//
// Usage:
//
//	RELAY_WS_URL=ws://127.0.0.1:8080/ws go run ./e2e/call-client-go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/collabhub/presence-relay/internal/wire"
)

const (
	roomID       = "e2e-call"
	callerUserID = "e2e-caller"
	calleeUserID = "e2e-callee"
)

func main() {
	wsURL := envOrDefault("RELAY_WS_URL", "ws://127.0.0.1:8080/ws")
	timeout := 30 * time.Second

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = logging.LogLevelInfo
	log := factory.NewLogger("call-client")

	caller, err := newPeer("caller", callerUserID, wsURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "caller: %v\n", err)
		os.Exit(1)
	}
	defer caller.Close()

	callee, err := newPeer("callee", calleeUserID, wsURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callee: %v\n", err)
		os.Exit(1)
	}
	defer callee.Close()

	opened := make(chan string, 2)

	dc, err := caller.pc.CreateDataChannel("probe", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create data channel: %v\n", err)
		os.Exit(1)
	}
	dc.OnOpen(func() { opened <- "caller" })

	callee.pc.OnDataChannel(func(ch *webrtc.DataChannel) {
		ch.OnOpen(func() { opened <- "callee" })
	})

	go caller.readLoop()
	go callee.readLoop()

	offer, err := caller.pc.CreateOffer(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create offer: %v\n", err)
		os.Exit(1)
	}
	if err := caller.pc.SetLocalDescription(offer); err != nil {
		fmt.Fprintf(os.Stderr, "set local offer: %v\n", err)
		os.Exit(1)
	}
	if err := caller.sendSignal(wire.EventOffer, wire.SignalData{
		RoomID:       roomID,
		TargetUserID: calleeUserID,
		Offer:        mustJSON(offer),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "send offer: %v\n", err)
		os.Exit(1)
	}
	log.Infof("offer sent, waiting for data channel (timeout %s)", timeout)

	deadline := time.After(timeout)
	for remaining := 2; remaining > 0; remaining-- {
		select {
		case side := <-opened:
			log.Infof("data channel open on %s", side)
		case <-deadline:
			fmt.Fprintln(os.Stderr, "timed out waiting for data channel")
			os.Exit(1)
		}
	}

	fmt.Println("ok: data channel established through the relay")
}

type peer struct {
	name string
	log  logging.LeveledLogger

	ws      *websocket.Conn
	writeMu sync.Mutex

	pc *webrtc.PeerConnection
}

func newPeer(name, userID, wsURL string, log logging.LeveledLogger) (*peer, error) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &peer{name: name, log: log, ws: ws, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := p.sendSignal(wire.EventICECandidate, wire.SignalData{
			RoomID:    roomID,
			Candidate: mustJSON(c.ToJSON()),
		}); err != nil {
			log.Warnf("%s: send candidate: %v", name, err)
		}
	})

	if err := p.sendEvent(wire.EventSetup, userID); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.sendEvent(wire.EventJoinRoom, roomID); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *peer) readLoop() {
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.ParseEnvelope(data)
		if err != nil {
			p.log.Warnf("%s: bad frame: %v", p.name, err)
			continue
		}
		if err := p.handle(env); err != nil {
			p.log.Warnf("%s: handle %s: %v", p.name, env.Event, err)
		}
	}
}

func (p *peer) handle(env wire.Envelope) error {
	switch env.Event {
	case wire.EventOffer:
		var delivery wire.SignalDelivery
		if err := json.Unmarshal(env.Data, &delivery); err != nil {
			return err
		}
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(delivery.Offer, &offer); err != nil {
			return err
		}
		if err := p.pc.SetRemoteDescription(offer); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		return p.sendSignal(wire.EventAnswer, wire.SignalData{
			RoomID: roomID,
			Answer: mustJSON(answer),
		})

	case wire.EventAnswer:
		var delivery wire.SignalDelivery
		if err := json.Unmarshal(env.Data, &delivery); err != nil {
			return err
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(delivery.Answer, &answer); err != nil {
			return err
		}
		return p.pc.SetRemoteDescription(answer)

	case wire.EventICECandidate:
		var delivery wire.SignalDelivery
		if err := json.Unmarshal(env.Data, &delivery); err != nil {
			return err
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(delivery.Candidate, &cand); err != nil {
			return err
		}
		return p.pc.AddICECandidate(cand)

	case wire.EventUserStatuses, wire.EventUserJoined, wire.EventCallEnded:
		return nil

	default:
		p.log.Debugf("%s: ignoring event %q", p.name, env.Event)
		return nil
	}
}

func (p *peer) sendEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := wire.MarshalEnvelope(event, payload)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

func (p *peer) sendSignal(event string, data wire.SignalData) error {
	return p.sendEvent(event, data)
}

func (p *peer) Close() {
	_ = p.pc.Close()
	_ = p.ws.Close()
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
