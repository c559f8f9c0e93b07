package webrtc

import (
	"fmt"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/utils"
	pion "github.com/pion/webrtc/v4"
)

// NewAPI builds a pion API. Loopback candidates are only useful when both
// peers run on the same host.
func NewAPI(includeLoopback bool) *pion.API {
	var se pion.SettingEngine
	se.SetIncludeLoopbackCandidate(includeLoopback)
	return pion.NewAPI(pion.WithSettingEngine(se))
}

// ICEConfiguration derives the ICE servers and transport policy from cfg.
func ICEConfiguration(cfg *config.Config) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewPeerConnection creates a peer connection through api, or the default
// pion API when api is nil.
func NewPeerConnection(cfg *config.Config, api *pion.API) (*pion.PeerConnection, error) {
	conf := ICEConfiguration(cfg)

	var (
		pc  *pion.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(conf)
	} else {
		pc, err = pion.NewPeerConnection(conf)
	}
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// CreateDataChannel opens an ordered, fully reliable data channel.
func CreateDataChannel(pc *pion.PeerConnection, label string) (*pion.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &pion.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return dc, nil
}

// CreateOffer creates an offer and applies it as the local description.
func CreateOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return pc.LocalDescription(), nil
}

// CreateAnswer applies offer as the remote description and answers it.
func CreateAnswer(pc *pion.PeerConnection, offer pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return pc.LocalDescription(), nil
}
