package coppa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ConsentRequest is handed to a Notifier when a parent must be contacted.
// Token is the only copy of the redeemable secret; the engine keeps its hash.
type ConsentRequest struct {
	ConsentID   string        `json:"consent_id"`
	ChildUserID string        `json:"child_user_id"`
	ParentEmail string        `json:"parent_email"`
	ParentName  string        `json:"parent_name"`
	Method      ConsentMethod `json:"method"`
	Token       string        `json:"token"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Notifier delivers consent requests to parents.
type Notifier interface {
	NotifyConsentRequest(ctx context.Context, req ConsentRequest) error
}

// LogNotifier records consent requests in the structured log without
// delivering them. The token and the full parent address are never logged.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "coppa_notifier")}
}

func (n *LogNotifier) NotifyConsentRequest(ctx context.Context, req ConsentRequest) error {
	n.logger.InfoContext(ctx, "parental consent requested",
		"consent_id", req.ConsentID,
		"child_user_id", req.ChildUserID,
		"parent_email", MaskEmail(req.ParentEmail),
		"method", string(req.Method),
		"expires_at", req.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// OutboxNotifier appends each consent request as one JSON line to w, for a
// mail relay to pick up. The line carries the token, so w must be private
// to the operator.
type OutboxNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewOutboxNotifier(w io.Writer) *OutboxNotifier {
	return &OutboxNotifier{w: w}
}

func (n *OutboxNotifier) NotifyConsentRequest(_ context.Context, req ConsentRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding consent request: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing consent outbox: %w", err)
	}
	return nil
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
