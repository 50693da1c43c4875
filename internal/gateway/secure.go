package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid message signature")
	ErrReplayAttack     = errors.New("message replay detected")
	ErrMessageExpired   = errors.New("message expired")
)

// MessageAuthenticator signs and verifies the outer message envelope.
// Verification order: timestamp window, HMAC, then an atomic
// check-and-record on message_id so two concurrent verifications of the
// same message cannot both pass.
type MessageAuthenticator struct {
	secret []byte
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMessageAuthenticator(secret string, window time.Duration) *MessageAuthenticator {
	return &MessageAuthenticator{
		secret: []byte(secret),
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Sign wraps payload in a signed envelope on behalf of userID.
func (a *MessageAuthenticator) Sign(payload json.RawMessage, userID uuid.UUID) *SecureMessage {
	msg := &SecureMessage{
		MessageID: uuid.NewString(),
		Payload:   payload,
		Timestamp: time.Now().UTC().Unix(),
		Nonce:     uuid.NewString(),
	}
	msg.Signature = a.signature(msg, userID)
	return msg
}

// Verify checks expiry, signature and replay for msg. On success the
// message id is recorded and any later submission fails with
// ErrReplayAttack until the sweep forgets it.
func (a *MessageAuthenticator) Verify(msg *SecureMessage, userID uuid.UUID) error {
	now := time.Now().UTC()

	skew := now.Unix() - msg.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > a.window {
		return ErrMessageExpired
	}

	expected := a.signature(msg, userID)
	if !hmac.Equal([]byte(expected), []byte(msg.Signature)) {
		return ErrInvalidSignature
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.seen[msg.MessageID]; dup {
		return ErrReplayAttack
	}
	a.seen[msg.MessageID] = now
	return nil
}

// SweepReplay drops recorded message ids older than the expiry window.
// Anything older would be rejected by the timestamp check regardless, so
// forgetting it cannot readmit a replay.
func (a *MessageAuthenticator) SweepReplay() int {
	cutoff := time.Now().UTC().Add(-a.window)

	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, seenAt := range a.seen {
		if seenAt.Before(cutoff) {
			delete(a.seen, id)
			removed++
		}
	}
	return removed
}

// ReplaySetSize reports the current number of remembered message ids.
func (a *MessageAuthenticator) ReplaySetSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

func (a *MessageAuthenticator) signature(msg *SecureMessage, userID uuid.UUID) string {
	data := fmt.Sprintf("%s:%d:%s:%s:%s:%s",
		msg.MessageID, msg.Timestamp, msg.Nonce, string(msg.Payload), userID, a.secret)

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
