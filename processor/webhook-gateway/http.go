package webhookgateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/review"
	"github.com/c360studio/semreview/webhook"
)

// maxRequestBodySize limits webhook body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MiB

// reasonPRNotFound labels manual triggers whose pull request no longer
// exists by the time the head is resolved.
const reasonPRNotFound = "pr_not_found"

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

type ignoredResponse struct {
	Ignored string `json:"ignored"`
}

// routes builds the gateway mux: webhook ingress, health, metrics.
func (c *Component) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", c.handleWebhook)
	mux.HandleFunc("/healthz", c.handleHealthz)
	if c.metrics != nil {
		mux.Handle("/metrics", c.metrics.Handler())
	}
	return mux
}

// handleWebhook runs one delivery through verify, classify, normalize,
// and enqueue. The handler is synchronous: a 202 means the event is
// durably queued or deliberately ignored.
func (c *Component) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	receivedAt := time.Now().UTC()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		c.rejected.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusBadRequest, "payload_too_large", "Request body exceeds 1 MiB")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "read_error", "Reading request body failed")
		return
	}
	payload := decodePayload(body)

	secret, err := c.secrets.Get(ctx, c.config.SecretName)
	if err != nil {
		c.failed.Add(1)
		c.logger.Error("Webhook secret unavailable", "secret", c.config.SecretName, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "config_error", "Webhook secret unavailable")
		return
	}
	if !webhook.VerifySignature(payload, r.Header.Get("X-Hub-Signature-256"), secret) {
		c.rejected.Add(1)
		c.logger.Warn("Webhook signature rejected", "delivery", r.Header.Get("X-GitHub-Delivery"))
		writeJSONError(w, http.StatusUnauthorized, "invalid_signature", "")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	c.received.Add(1)
	if c.metrics != nil {
		c.metrics.EventsReceived.WithLabelValues(eventType).Inc()
	}

	if !webhook.WithinAge(ingressTime(r), c.config.MaxWebhookAge()) {
		c.rejected.Add(1)
		c.logger.Warn("Stale webhook delivery rejected", "delivery", deliveryID, "event", eventType)
		writeJSONError(w, http.StatusBadRequest, "webhook_too_old", "")
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		c.rejected.Add(1)
		writeJSONError(w, http.StatusBadRequest, "malformed_payload", "Payload does not parse as the declared event type")
		return
	}

	cls := webhook.Classify(event, webhook.Options{
		TriggerPhrase: c.config.TriggerPhrase,
		BotUsername:   c.config.BotUsername,
		TriggerLabels: c.config.TriggerLabels,
		CheckRunName:  c.config.CheckRunName,
		AllowedRepos:  c.config.AllowedRepos,
	})
	if !cls.Enqueue {
		c.ignore(w, deliveryID, eventType, cls.IgnoreReason)
		return
	}

	ev := review.CanonicalEvent{
		DeliveryID:     deliveryID,
		RepoFullName:   cls.RepoFullName,
		PRNumber:       cls.PRNumber,
		HeadSHA:        cls.HeadSHA,
		InstallationID: cls.InstallationID,
		EventAction:    cls.EventAction,
		Trigger:        cls.Trigger,
		BaseRef:        cls.BaseRef,
		ReceivedAt:     receivedAt,
		TraceID:        uuid.NewString(),
	}

	// Comment-triggered events carry no head SHA; ask the forge for the
	// current head before enqueueing.
	if ev.HeadSHA == "" {
		if err := c.resolveHead(ctx, &ev); err != nil {
			if forge.IsNotFound(err) {
				c.ignore(w, deliveryID, eventType, reasonPRNotFound)
				return
			}
			c.failed.Add(1)
			c.logger.Error("Head resolution failed",
				"delivery", deliveryID, "repo", ev.RepoFullName, "pr", ev.PRNumber, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "head_resolution_failed", "")
			return
		}
	}

	if err := ev.Validate(); err != nil {
		c.rejected.Add(1)
		writeJSONError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	if err := c.publish(ctx, &ev); err != nil {
		c.failed.Add(1)
		c.logger.Error("Enqueue failed",
			"delivery", ev.DeliveryID, "repo", ev.RepoFullName, "pr", ev.PRNumber, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "enqueue_failed", "")
		return
	}

	c.enqueued.Add(1)
	if c.metrics != nil {
		c.metrics.EventsEnqueued.WithLabelValues(ev.Trigger).Inc()
	}
	c.logger.Info("Canonical event enqueued",
		"delivery", ev.DeliveryID,
		"repo", ev.RepoFullName,
		"pr", ev.PRNumber,
		"sha", ev.HeadSHA,
		"trigger", ev.Trigger,
		"trace_id", ev.TraceID)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// ignore records and answers a deliberately unprocessed delivery.
func (c *Component) ignore(w http.ResponseWriter, deliveryID, eventType, reason string) {
	c.ignored.Add(1)
	if c.metrics != nil {
		c.metrics.EventsIgnored.WithLabelValues(reason).Inc()
	}
	c.logger.Debug("Webhook delivery ignored", "delivery", deliveryID, "event", eventType, "reason", reason)
	writeJSON(w, http.StatusAccepted, ignoredResponse{Ignored: reason})
}

// resolveHead fills the head SHA and base ref for comment-triggered
// events, whose payloads carry neither.
func (c *Component) resolveHead(ctx context.Context, ev *review.CanonicalEvent) error {
	if c.forge == nil {
		return fmt.Errorf("no forge credentials configured")
	}
	client, err := c.forge.Client(ctx, ev.InstallationID)
	if err != nil {
		return err
	}
	pr, err := client.GetPullRequest(ctx, ev.Owner(), ev.Repo(), ev.PRNumber)
	if err != nil {
		return err
	}
	ev.HeadSHA = pr.HeadSHA
	if ev.BaseRef == "" {
		ev.BaseRef = pr.BaseRef
	}
	return nil
}

// publish sends the canonical event, deduplicated by its identity key,
// and mirrors auto-triggered events onto the fanout subject space.
func (c *Component) publish(ctx context.Context, ev *review.CanonicalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling canonical event: %w", err)
	}

	subject := eventSubject(c.config.EventSubjectPrefix, ev)
	if _, err := c.js.PublishMsg(ctx, eventMsg(subject, data, ev.DedupKey())); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	if ev.Trigger == review.TriggerAuto && c.config.FanoutSubjectPrefix != "" {
		fanout := eventSubject(c.config.FanoutSubjectPrefix, ev)
		if _, err := c.js.PublishMsg(ctx, eventMsg(fanout, data, ev.DedupKey())); err != nil {
			// Fanout is best-effort once the primary publish succeeded.
			c.logger.Warn("Fanout publish failed", "subject", fanout, "delivery", ev.DeliveryID, "error", err)
		}
	}
	return nil
}

// eventMsg wraps the event bytes with the queue-level dedup id.
func eventMsg(subject string, data []byte, dedupKey string) *nats.Msg {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(jetstream.MsgIDHeader, dedupKey)
	return msg
}

// handleHealthz reports component health. With a health source wired it
// covers every component in the process; standalone it reports just the
// gateway.
func (c *Component) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	source := c.healthSource
	c.mu.RUnlock()

	var components map[string]component.HealthStatus
	if source != nil {
		components = source()
	} else {
		components = map[string]component.HealthStatus{c.name: c.Health()}
	}

	healthy := true
	for _, h := range components {
		if !h.Healthy {
			healthy = false
			break
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Healthy: healthy, Components: components})
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Healthy    bool                              `json:"healthy"`
	Components map[string]component.HealthStatus `json:"components"`
}

// eventSubject builds the per-PR publish subject. Owner and repo are
// sanitized so they stay single subject tokens; the dedup key, not the
// subject, carries event identity.
func eventSubject(prefix string, ev *review.CanonicalEvent) string {
	return prefix + "." + subjectToken(ev.Owner()) + "." + subjectToken(ev.Repo()) + "." + strconv.Itoa(ev.PRNumber)
}

// subjectToken makes a string safe for use as a single NATS subject token.
func subjectToken(v string) string {
	r := strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-")
	return r.Replace(strings.TrimSpace(v))
}

// decodePayload handles ingress layers that base64-encode the body. A
// payload already starting with '{' passes through untouched; the
// signature covers the decoded bytes either way.
func decodePayload(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return body
	}
	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return body
	}
	return decoded
}

// ingressTime extracts the delivery's original receipt time from the
// X-Request-Start header ("t=<epoch>" in seconds, milliseconds, or
// microseconds). Zero when absent or unreadable, which skips the age
// check.
func ingressTime(r *http.Request) time.Time {
	raw := strings.TrimPrefix(r.Header.Get("X-Request-Start"), "t=")
	if raw == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	switch {
	case len(raw) >= 16:
		return time.UnixMicro(n)
	case len(raw) >= 13:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
