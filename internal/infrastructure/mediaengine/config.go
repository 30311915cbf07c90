package mediaengine

import (
	"github.com/pion/webrtc/v3"

	"roomcast/internal/core/domain"
)

// ListenIP is a local address transports bind to. AnnouncedIP, when set, is
// what clients are told to connect to.
type ListenIP struct {
	IP          string `yaml:"ip"`
	AnnouncedIP string `yaml:"announced_ip"`
}

type Config struct {
	ListenIPs []ListenIP
	PortRange struct {
		Min uint16
		Max uint16
	}
	InitialAvailableOutgoingBitrate int
}

func DefaultConfig() Config {
	cfg := Config{
		ListenIPs:                       []ListenIP{{IP: "127.0.0.1"}},
		InitialAvailableOutgoingBitrate: 1000000,
	}
	cfg.PortRange.Min = 40000
	cfg.PortRange.Max = 49999
	return cfg
}

// DefaultCodecs is the router codec set used when none is configured.
func DefaultCodecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{
		{
			Kind:      domain.KindAudio,
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      domain.KindVideo,
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"x-google-start-bitrate": 1000,
			},
		},
		{
			Kind:      domain.KindVideo,
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}
