package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"roomcast/internal/core/domain"
)

var (
	// PeerIDRegex validates connection-assigned peer ids
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// MimeTypeRegex validates codec mime types such as "video/VP8"
	MimeTypeRegex = regexp.MustCompile(`^(audio|video)/[A-Za-z0-9.+_-]+$`)
)

const maxRoomIDLength = 256

// ValidateRoomID validates a client supplied room id. Room ids are opaque and
// compared by exact match.
func ValidateRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > maxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d bytes)", maxRoomIDLength)
	}
	if !utf8.ValidString(roomID) {
		return fmt.Errorf("room ID contains invalid characters")
	}
	return nil
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 100 {
		return fmt.Errorf("peer ID is too long (max 100 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateKind validates a media kind
func ValidateKind(kind string) error {
	if !domain.MediaKind(kind).Valid() {
		return fmt.Errorf("invalid kind %q (must be audio or video)", kind)
	}
	return nil
}

// ValidateDirection validates a transport direction
func ValidateDirection(direction string) error {
	if !domain.Direction(direction).Valid() {
		return fmt.Errorf("invalid direction %q (must be send or recv)", direction)
	}
	return nil
}

// ValidateRtpParameters checks the parameters a client sends with produce.
func ValidateRtpParameters(rtp domain.RtpParameters) error {
	if len(rtp.Codecs) == 0 {
		return fmt.Errorf("rtp parameters must list at least one codec")
	}
	for _, c := range rtp.Codecs {
		if !MimeTypeRegex.MatchString(c.MimeType) {
			return fmt.Errorf("invalid codec mime type %q", c.MimeType)
		}
		if c.ClockRate <= 0 {
			return fmt.Errorf("codec %s has invalid clock rate %d", c.MimeType, c.ClockRate)
		}
	}
	return nil
}

// ValidateDtlsParameters checks the parameters a client sends with connect.
func ValidateDtlsParameters(dtls domain.DtlsParameters) error {
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("dtls parameters must include a fingerprint")
	}
	for _, fp := range dtls.Fingerprints {
		if err := ValidateNonEmptyString(fp.Algorithm, "fingerprint algorithm"); err != nil {
			return err
		}
		if err := ValidateNonEmptyString(fp.Value, "fingerprint value"); err != nil {
			return err
		}
	}
	switch dtls.Role {
	case "", "auto", "client", "server":
	default:
		return fmt.Errorf("invalid dtls role %q", dtls.Role)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
