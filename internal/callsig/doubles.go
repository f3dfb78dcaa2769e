// Package callsig provides test doubles for spec §4.7's call-signaling
// relay. The hub never parses the offer/answer/candidate blobs it
// forwards — per the Open Question resolution in spec §9, relay stays
// opaque. This package uses a real pion/webrtc stack plus pion/sdp to
// produce and validate those blobs from a genuine WebRTC implementation's
// point of view, so hub tests exercise realistic payload shapes instead
// of hand-typed placeholder strings.
//
// Grounded on the teacher's internal/voice/engine.go (CreateOffer/
// HandleOffer/HandleAnswer's CreateOffer → SetLocalDescription →
// GatheringCompletePromise sequence) and the data-channel peer setup in
// the retrieval pack's p2p WebRTC connector.
package callsig

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// peerConnectionConfig uses no STUN/TURN servers; these doubles never
// actually connect, they only exercise SDP offer/answer generation.
var peerConnectionConfig = webrtc.Configuration{}

// NewOfferer builds a real PeerConnection with one data channel and
// returns it alongside its local SDP offer, gathered to completion so
// the SDP string carries candidates the way a non-trickle client would
// send it over the wire.
func NewOfferer(ctx context.Context) (*webrtc.PeerConnection, string, error) {
	pc, err := webrtc.NewPeerConnection(peerConnectionConfig)
	if err != nil {
		return nil, "", fmt.Errorf("callsig: create offerer peer connection: %w", err)
	}

	if _, err := pc.CreateDataChannel("wisp-call", nil); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: ICE gathering: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: ICE gathering timed out")
	}

	return pc, pc.LocalDescription().SDP, nil
}

// AnswerOffer feeds an opaque offer SDP (as relayed, unparsed, by the hub)
// into a fresh answering PeerConnection and returns its gathered SDP
// answer — the same shape a real callee's call_accept frame would carry.
func AnswerOffer(ctx context.Context, offerSDP string) (*webrtc.PeerConnection, string, error) {
	pc, err := webrtc.NewPeerConnection(peerConnectionConfig)
	if err != nil {
		return nil, "", fmt.Errorf("callsig: create answerer peer connection: %w", err)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: ICE gathering: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		_ = pc.Close()
		return nil, "", fmt.Errorf("callsig: ICE gathering timed out")
	}

	return pc, pc.LocalDescription().SDP, nil
}

// IsWellFormedSDP parses a blob with pion/sdp independently of the
// webrtc stack that produced it — the check a recipient could run if it
// ever chose to validate relayed SDP, which the hub deliberately does not.
func IsWellFormedSDP(blob string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(blob)); err != nil {
		return fmt.Errorf("callsig: malformed SDP: %w", err)
	}
	return nil
}
