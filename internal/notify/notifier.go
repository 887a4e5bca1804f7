// Package notify fans operator alerts out to chat webhooks. Alerts are
// filtered by market event kind so operators only hear about the events
// they configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// DefaultEvents are the kinds alerted on when none are configured.
var DefaultEvents = []string{
	string(domain.EventMarketHalted),
	string(domain.EventMarketResumed),
	string(domain.EventSettlementAuthorized),
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier forwarding only the listed event kinds. An
// empty list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether kind passes the filter and at least one sender is
// registered.
func (n *Notifier) Enabled(kind domain.EventKind) bool {
	return n != nil && len(n.senders) > 0 && n.events[string(kind)]
}

// NotifyEvent formats a market event and sends it if its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LedgerEvent, m domain.Market) error {
	if !n.Enabled(ev.Kind) {
		return nil
	}
	title, message := Format(ev, m)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to every sender regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// Format renders the alert title and body for a market event.
func Format(ev domain.LedgerEvent, m domain.Market) (title, message string) {
	name := m.Title
	if name == "" {
		name = m.ID
	}
	switch ev.Kind {
	case domain.EventMarketHalted:
		return "Market halted", fmt.Sprintf("%s (%s) halted at seq %d: %s", name, m.ID, ev.Seq, ev.Reason)
	case domain.EventMarketResumed:
		return "Market resumed", fmt.Sprintf("%s (%s) reconciled at seq %d", name, m.ID, ev.Seq)
	case domain.EventSettlementAuthorized:
		if ev.Settlement != nil && ev.Settlement.Kind == domain.SettlementRefund {
			return "Market refunded", fmt.Sprintf("%s (%s): %d refunded to %d participants",
				name, m.ID, ev.Settlement.Total(), len(ev.Settlement.Entitlements))
		}
		if ev.Settlement != nil {
			return "Market settled", fmt.Sprintf("%s (%s) settled on %q: pool %d, fee %d, %d winners",
				name, m.ID, ev.Settlement.Outcome, ev.Settlement.Pool, ev.Settlement.Fee, len(ev.Settlement.Entitlements))
		}
	case domain.EventMarketVoided:
		return "Market voided", fmt.Sprintf("%s (%s) voided: %s", name, m.ID, ev.Reason)
	case domain.EventMarketResolved:
		return "Market resolved", fmt.Sprintf("%s (%s) resolved to %q", name, m.ID, ev.Outcome)
	}
	return string(ev.Kind), fmt.Sprintf("%s (%s) seq %d", name, m.ID, ev.Seq)
}

// dispatch tries every sender and joins their failures.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON posts payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
