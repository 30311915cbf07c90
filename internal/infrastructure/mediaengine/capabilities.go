package mediaengine

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"

	"roomcast/internal/core/domain"
)

const firstDynamicPayloadType = 100

var (
	videoFeedback = []domain.RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
	audioFeedback = []domain.RtcpFeedback{
		{Type: "transport-cc"},
	}

	headerExtensions = []domain.RtpHeaderExtension{
		{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
		{Kind: domain.KindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
		{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10, Direction: "sendrecv"},
		{Kind: domain.KindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5, Direction: "sendrecv"},
	}
)

// buildCapabilities normalizes the configured codecs into router capabilities,
// assigning payload types from 100 upward where none was preferred.
func buildCapabilities(codecs []domain.RtpCodecCapability) (domain.RtpCapabilities, error) {
	if len(codecs) == 0 {
		return domain.RtpCapabilities{}, fmt.Errorf("no media codecs configured")
	}

	used := make(map[uint8]bool)
	for _, c := range codecs {
		if c.PreferredPayloadType != 0 {
			used[c.PreferredPayloadType] = true
		}
	}

	next := uint8(firstDynamicPayloadType)
	caps := domain.RtpCapabilities{
		Codecs:           make([]domain.RtpCodecCapability, 0, len(codecs)),
		HeaderExtensions: append([]domain.RtpHeaderExtension(nil), headerExtensions...),
	}
	for _, c := range codecs {
		if !c.Kind.Valid() {
			return domain.RtpCapabilities{}, fmt.Errorf("codec %s: invalid kind %q", c.MimeType, c.Kind)
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(c.Kind)+"/") {
			return domain.RtpCapabilities{}, fmt.Errorf("codec %s does not match kind %s", c.MimeType, c.Kind)
		}
		if c.ClockRate <= 0 {
			return domain.RtpCapabilities{}, fmt.Errorf("codec %s: invalid clock rate", c.MimeType)
		}

		out := c
		if out.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			if next > 127 {
				return domain.RtpCapabilities{}, fmt.Errorf("ran out of dynamic payload types")
			}
			out.PreferredPayloadType = next
			used[next] = true
		}
		if out.Kind == domain.KindAudio && out.Channels == 0 && strings.EqualFold(out.MimeType, webrtc.MimeTypeOpus) {
			out.Channels = 2
		}
		if len(out.RtcpFeedback) == 0 {
			if out.Kind == domain.KindVideo {
				out.RtcpFeedback = videoFeedback
			} else {
				out.RtcpFeedback = audioFeedback
			}
		}
		caps.Codecs = append(caps.Codecs, out)
	}
	return caps, nil
}

// codecMatches reports whether a sent codec can be decoded by a receiver
// advertising capability c.
func codecMatches(sent domain.RtpCodecParameters, c domain.RtpCodecCapability) bool {
	if !strings.EqualFold(sent.MimeType, c.MimeType) {
		return false
	}
	if sent.ClockRate != c.ClockRate {
		return false
	}
	if c.Kind == domain.KindAudio || strings.HasPrefix(strings.ToLower(sent.MimeType), "audio/") {
		if channelsOf(sent.Channels) != channelsOf(c.Channels) {
			return false
		}
	}
	if strings.EqualFold(sent.MimeType, webrtc.MimeTypeH264) {
		if intParam(sent.Parameters, "packetization-mode") != intParam(c.Parameters, "packetization-mode") {
			return false
		}
	}
	return true
}

func channelsOf(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

// intParam reads a numeric fmtp parameter, which arrives as float64 from JSON,
// int8/int64/uint8 from msgpack and int from YAML.
func intParam(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// supported reports whether any of the producer's codecs is in the router set.
func supported(rtp domain.RtpParameters, caps domain.RtpCapabilities) bool {
	for _, sent := range rtp.Codecs {
		for _, c := range caps.Codecs {
			if codecMatches(sent, c) {
				return true
			}
		}
	}
	return false
}

// consumableCodecs picks the producer codecs the receiver can decode, using
// the receiver's payload types.
func consumableCodecs(rtp domain.RtpParameters, caps domain.RtpCapabilities) []domain.RtpCodecParameters {
	var out []domain.RtpCodecParameters
	for _, sent := range rtp.Codecs {
		for _, c := range caps.Codecs {
			if !codecMatches(sent, c) {
				continue
			}
			codec := sent
			if c.PreferredPayloadType != 0 {
				codec.PayloadType = c.PreferredPayloadType
			}
			if len(c.RtcpFeedback) > 0 {
				codec.RtcpFeedback = c.RtcpFeedback
			}
			out = append(out, codec)
			break
		}
	}
	return out
}
