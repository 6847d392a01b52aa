package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"gopkg.in/hraban/opus.v2"
)

var log = logging.L("stream")

// WebRTCHandler answers SDP offers and streams the filtered live signal to
// each peer as mono Opus. Peers hear only what the monitor publishes, so the
// stream is silent between recordings.
type WebRTCHandler struct {
	frames     *Broadcaster[[]int16]
	sampleRate int
	bitrate    int

	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a handler fed by 20ms mono frames at sampleRate.
func NewWebRTCHandler(frames *Broadcaster[[]int16], sampleRate, bitrate int) *WebRTCHandler {
	return &WebRTCHandler{frames: frames, sampleRate: sampleRate, bitrate: bitrate}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"phonoscope",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Non-trickle: answer once gathering is done.
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-r.Context().Done():
		pc.Close()
		return
	}

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()
	log.Info("monitor peer connected", "peers", h.PeerCount())

	listener := h.frames.Subscribe()
	go h.streamToPeer(listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.frames.Unsubscribe(listener)
			if h.removePeer(pc) {
				pc.Close()
				log.Info("monitor peer disconnected", "state", s.String(), "peers", h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(l *Listener[[]int16], track *webrtc.TrackLocalStaticSample) {
	defer h.frames.Unsubscribe(l)

	enc, err := opus.NewEncoder(h.sampleRate, 1, opus.AppAudio)
	if err != nil {
		log.Error("opus encoder", logging.KeyError, err)
		return
	}
	if h.bitrate > 0 {
		if err := enc.SetBitrate(h.bitrate); err != nil {
			log.Warn("opus bitrate", "bitrate", h.bitrate, logging.KeyError, err)
		}
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Warn("opus encode", logging.KeyError, err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() error {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
	return nil
}
