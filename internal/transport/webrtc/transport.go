// Package webrtc carries a transfer session over a WebRTC data channel.
// Offers and answers travel through a transport.Signaler as JSON session
// descriptions with all ICE candidates included.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// HostPeerID addresses the host through the signaling relay.
const HostPeerID = "host"

var ErrSignalingClosed = errors.New("signaling closed before negotiation finished")

type Config struct {
	RoomID      string
	STUNServers []string
	Logger      *logrus.Logger
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.NewLogger()
}

// Peer owns the peer connection behind a negotiated channel.
type Peer struct {
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
	closeErr  error
}

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

// Listen waits for a joiner's offer, answers it and hands the joiner's data
// channel to h once it opens. Channels labelled with another room are
// refused.
func Listen(ctx context.Context, cfg Config, sig transport.Signaler, h transport.Handler) (*Peer, error) {
	log := cfg.logger().WithFields(logrus.Fields{"room": cfg.RoomID, "role": "host"})

	log.Info("Waiting for an offer")
	offer, err := awaitDescription(ctx, sig, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(Configuration(cfg.STUNServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	var accept sync.Once
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != cfg.RoomID {
			log.Warnf("Refusing data channel %q", dc.Label())
			_ = dc.Close()
			return
		}
		accepted := false
		accept.Do(func() {
			newChannel(pc, dc, h)
			accepted = true
		})
		if !accepted {
			log.Warn("Refusing second data channel")
			_ = dc.Close()
		}
	})

	if err := pc.SetRemoteDescription(offer.SessionDescription); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	if err := setLocalAndSignal(ctx, pc, answer, sig, offer.from); err != nil {
		_ = pc.Close()
		return nil, err
	}

	log.Info("Answer sent")
	return &Peer{pc: pc}, nil
}

// Dial opens a data channel labelled with the room id and offers it to the
// host. h sees the channel once it opens.
func Dial(ctx context.Context, cfg Config, sig transport.Signaler, h transport.Handler) (*Peer, error) {
	log := cfg.logger().WithFields(logrus.Fields{"room": cfg.RoomID, "role": "joiner"})

	pc, err := webrtc.NewPeerConnection(Configuration(cfg.STUNServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(cfg.RoomID, DefaultDataChannelConfig())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	newChannel(pc, dc, h)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	if err := setLocalAndSignal(ctx, pc, offer, sig, HostPeerID); err != nil {
		_ = pc.Close()
		return nil, err
	}
	log.Info("Offer sent, waiting for answer")

	answer, err := awaitDescription(ctx, sig, webrtc.SDPTypeAnswer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := pc.SetRemoteDescription(answer.SessionDescription); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	return &Peer{pc: pc}, nil
}

// setLocalAndSignal applies desc, waits for ICE gathering to finish and
// sends the complete description to peerID.
func setLocalAndSignal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription, sig transport.Signaler, peerID string) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("failed to encode description: %w", err)
	}
	if err := sig.SendSignal(ctx, peerID, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", desc.Type, err)
	}
	return nil
}

type description struct {
	webrtc.SessionDescription
	from string
}

// awaitDescription reads signals until one carries a description of the
// wanted type. Anything else is skipped.
func awaitDescription(ctx context.Context, sig transport.Signaler, want webrtc.SDPType) (description, error) {
	for {
		select {
		case <-ctx.Done():
			return description{}, ctx.Err()
		case s, ok := <-sig.RecvSignal():
			if !ok {
				return description{}, ErrSignalingClosed
			}
			var desc webrtc.SessionDescription
			if err := json.Unmarshal(s.Payload, &desc); err != nil || desc.Type != want {
				continue
			}
			return description{SessionDescription: desc, from: s.PeerID}, nil
		}
	}
}
