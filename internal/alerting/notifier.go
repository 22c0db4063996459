// Package alerting turns qualifying observations into aggregated alert
// records and delivers them through notification channels behind an SSRF
// guard.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/store"
)

// NotificationData is the material a channel message is built from.
type NotificationData struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	TargetType string `json:"target_type"`
	CreatedAt  string `json:"created_at"`
}

// FormatMessage renders the notification text. A per-policy template using
// {field} placeholders is applied when it references only known fields;
// otherwise the default layout is used.
func FormatMessage(data NotificationData, template string) string {
	if template != "" {
		if msg, ok := applyTemplate(template, data); ok {
			return msg
		}
	}
	return fmt.Sprintf("[%s] %s\nMessage: %s\nType: %s\nTime: %s",
		strings.ToUpper(data.Severity), data.Title, data.Message, data.TargetType, data.CreatedAt)
}

func applyTemplate(template string, data NotificationData) (string, bool) {
	fields := map[string]string{
		"title":       data.Title,
		"message":     data.Message,
		"severity":    data.Severity,
		"target_type": data.TargetType,
		"created_at":  data.CreatedAt,
	}
	out := template
	for k, v := range fields {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	// A leftover placeholder means the template references an unknown field.
	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		return "", false
	}
	return out, true
}

// Notifier delivers messages through channels. Channel config is always read
// from the store by id, never accepted from callers.
type Notifier struct {
	store  *store.Store
	client *http.Client
	m      *metrics.Metrics
	logger *log.Logger
}

// NewNotifier builds a notifier with a 10 second HTTP timeout.
func NewNotifier(st *store.Store, m *metrics.Metrics) *Notifier {
	return &Notifier{
		store:  st,
		client: &http.Client{Timeout: 10 * time.Second},
		m:      m,
		logger: log.New(log.Writer(), "[NOTIFIER] ", log.LstdFlags),
	}
}

// Send delivers to one channel and, when alertID is set, records the outcome
// on the alert. Marks the alert sent on the first successful channel.
func (n *Notifier) Send(ctx context.Context, channelID, alertID string, data NotificationData, template string) (bool, string) {
	channel, err := n.store.GetNotificationChannel(ctx, channelID)
	if err != nil {
		return n.finish(ctx, alertID, channelID, "unknown", false, fmt.Sprintf("channel lookup: %v", err))
	}
	if !channel.Enabled {
		return n.finish(ctx, alertID, channelID, channel.ChannelType, false, "channel disabled")
	}

	message := FormatMessage(data, template)
	ok, sendErr := n.deliver(ctx, channel, message, data)
	errStr := ""
	if sendErr != nil {
		errStr = sendErr.Error()
	}
	return n.finish(ctx, alertID, channelID, channel.ChannelType, ok, errStr)
}

// TestChannel sends a canned message and records the outcome on the channel.
func (n *Notifier) TestChannel(ctx context.Context, channelID string) (bool, string) {
	channel, err := n.store.GetNotificationChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Sprintf("channel lookup: %v", err)
	}
	data := NotificationData{
		Title:      "Test notification",
		Message:    "This is a test notification verifying the channel configuration.",
		Severity:   "info",
		TargetType: "test",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	ok, sendErr := n.deliver(ctx, channel, FormatMessage(data, ""), data)
	if rerr := n.store.RecordChannelTest(ctx, channelID, ok); rerr != nil {
		n.logger.Printf("channel %s test result not recorded: %v", channelID, rerr)
	}
	errStr := ""
	if sendErr != nil {
		errStr = sendErr.Error()
	}
	n.m.NotificationsSent.WithLabelValues(channel.ChannelType, result(ok)).Inc()
	return ok, errStr
}

func (n *Notifier) finish(ctx context.Context, alertID, channelID, channelType string, ok bool, errStr string) (bool, string) {
	if alertID != "" {
		res := store.JSONMap{
			"success": ok,
			"sent_at": time.Now().UTC().Format(time.RFC3339),
		}
		if errStr != "" {
			res["error"] = errStr
		}
		if err := n.store.SetNotificationResult(ctx, alertID, channelID, res); err != nil {
			n.logger.Printf("alert %s result not recorded: %v", alertID, err)
		}
		if ok {
			if _, err := n.store.UpdateAlertStatus(ctx, alertID, store.AlertSent); err != nil {
				// Another channel already marked it sent.
				n.logger.Printf("alert %s not marked sent: %v", alertID, err)
			}
		}
	}
	n.m.NotificationsSent.WithLabelValues(channelType, result(ok)).Inc()
	return ok, errStr
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (n *Notifier) deliver(ctx context.Context, channel *store.NotificationChannel, message string, data NotificationData) (bool, error) {
	switch channel.ChannelType {
	case "email":
		return n.sendEmail(channel.Config, message, data)
	case "webhook":
		return n.sendWebhook(ctx, channel.Config, message, data)
	case "dingtalk":
		return n.sendBotWebhook(ctx, channel.Config, map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": message},
		})
	case "feishu":
		return n.sendBotWebhook(ctx, channel.Config, map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": message},
		})
	case "wechat":
		return n.sendBotWebhook(ctx, channel.Config, map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": message},
		})
	}
	return false, fmt.Errorf("unknown channel type: %s", channel.ChannelType)
}

func configString(config store.JSONMap, keys ...string) string {
	for _, k := range keys {
		if v, ok := config[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (n *Notifier) sendWebhook(ctx context.Context, config store.JSONMap, message string, data NotificationData) (bool, error) {
	target := configString(config, "url", "webhook_url")
	if target == "" {
		return false, fmt.Errorf("missing webhook url")
	}
	if safe, reason := IsSafeURL(target); !safe {
		n.logger.Printf("SSRF protection blocked URL: %s (%s)", target, reason)
		return false, fmt.Errorf("URL blocked for security: %s", reason)
	}
	payload := map[string]interface{}{
		"title":       data.Title,
		"message":     data.Message,
		"severity":    data.Severity,
		"target_type": data.TargetType,
		"created_at":  data.CreatedAt,
		"text":        message,
	}
	return n.post(ctx, target, payload, configString(config, "auth_header"))
}

func (n *Notifier) sendBotWebhook(ctx context.Context, config store.JSONMap, payload map[string]interface{}) (bool, error) {
	target := configString(config, "webhook_url")
	if target == "" {
		return false, fmt.Errorf("missing webhook_url")
	}
	if safe, reason := IsSafeURL(target); !safe {
		n.logger.Printf("SSRF protection blocked URL: %s (%s)", target, reason)
		return false, fmt.Errorf("URL blocked for security: %s", reason)
	}
	return n.post(ctx, target, payload, "")
}

func (n *Notifier) post(ctx context.Context, target string, payload interface{}, authHeader string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return true, nil
}

// sendEmail delivers over SMTP with the config's host, port, optional
// credentials, and recipient list.
func (n *Notifier) sendEmail(config store.JSONMap, message string, data NotificationData) (bool, error) {
	host := configString(config, "smtp_host")
	if host == "" {
		return false, fmt.Errorf("missing SMTP configuration (smtp_host, recipients)")
	}
	port := "587"
	switch p := config["smtp_port"].(type) {
	case float64:
		port = fmt.Sprintf("%d", int(p))
	case string:
		if p != "" {
			port = p
		}
	}
	from := configString(config, "from", "username")
	var recipients []string
	if raw, ok := config["recipients"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok && s != "" {
				recipients = append(recipients, s)
			}
		}
	}
	if len(recipients) == 0 {
		return false, fmt.Errorf("missing SMTP configuration (smtp_host, recipients)")
	}

	var auth smtp.Auth
	if user := configString(config, "username"); user != "" {
		auth = smtp.PlainAuth("", user, configString(config, "password"), host)
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(data.Severity), data.Title)
	msg := []byte("From: " + from + "\r\n" +
		"To: " + strings.Join(recipients, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		message + "\r\n")
	if err := smtp.SendMail(host+":"+port, auth, from, recipients, msg); err != nil {
		return false, err
	}
	return true, nil
}
