package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// Event names carried in the X-Reviewlake-Event header.
const (
	EventPing = "ping"
	EventRun  = "run"
	EventApps = "apps"
)

// VerifySignature checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func VerifySignature(payload []byte, signature string, secret []byte) error {
	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("invalid signature format")
	}
	sig, err := hex.DecodeString(signature[7:])
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// PingEvent checks connectivity.
type PingEvent struct {
	Zen string `json:"zen"`
}

// RunEvent asks for a pipeline job to start.
type RunEvent struct {
	Job         string `json:"job"`
	RequestedBy string `json:"requested_by"`
}

// AppsEvent registers apps to track on one platform.
type AppsEvent struct {
	Platform string              `json:"platform"`
	Apps     []review.TrackedApp `json:"apps"`
}

// ParseEvent decodes payload according to eventType.
func ParseEvent(eventType string, payload []byte) (any, error) {
	var event any
	switch eventType {
	case EventPing:
		event = &PingEvent{}
	case EventRun:
		event = &RunEvent{}
	case EventApps:
		event = &AppsEvent{}
	default:
		return nil, fmt.Errorf("unsupported event type %q", eventType)
	}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("parse %s event: %w", eventType, err)
	}
	return event, nil
}
