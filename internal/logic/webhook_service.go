package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/internal/repository"
	"github.com/pccr10001/modemd/pkg/logger"
)

const (
	EventAttached = "attached"
	EventDetached = "detached"
)

// Event is rendered into webhook templates, e.g. "{{.Event}} {{.Family}} on {{.Port}}".
type Event struct {
	Event      string            `json:"event"`
	Handle     string            `json:"handle"`
	Family     string            `json:"family"`
	Port       string            `json:"port,omitempty"`
	Roles      map[string]string `json:"roles,omitempty"`
	IMEI       string            `json:"imei,omitempty"`
	Operator   string            `json:"operator,omitempty"`
	SIMPresent bool              `json:"sim_present"`
	Time       time.Time         `json:"time"`
}

func (e Event) text() string {
	s := fmt.Sprintf("Modem %s %s (%s)", e.Family, e.Event, e.Handle)
	if e.Port != "" {
		s += " on " + e.Port
	}
	return s
}

type WebhookService struct {
	repo    *repository.WebhookRepository
	static  []model.Webhook
	client  *http.Client
	pending sync.WaitGroup
}

// NewWebhookService sends to the webhooks stored in repo (may be nil) plus
// the ones named in the configuration.
func NewWebhookService(repo *repository.WebhookRepository, cfg config.WebhookConfig) *WebhookService {
	return &WebhookService{
		repo:   repo,
		static: configuredWebhooks(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func configuredWebhooks(cfg config.WebhookConfig) []model.Webhook {
	var list []model.Webhook
	for _, u := range cfg.URLs {
		list = append(list, model.Webhook{Family: "*", URL: u, Platform: "generic", Enabled: true})
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		list = append(list, model.Webhook{
			Family:    "*",
			URL:       "https://api.telegram.org/bot" + cfg.TelegramToken + "/sendMessage",
			Platform:  "telegram",
			ChannelID: cfg.TelegramChatID,
			Enabled:   true,
		})
	}
	if cfg.SlackURL != "" {
		list = append(list, model.Webhook{Family: "*", URL: cfg.SlackURL, Platform: "slack", Enabled: true})
	}
	return list
}

func (s *WebhookService) targets(family string) []model.Webhook {
	list := append([]model.Webhook(nil), s.static...)
	if s.repo == nil {
		return list
	}
	stored, err := s.repo.FindByFamily(family)
	if err != nil {
		logger.Log.Errorf("Failed to fetch webhooks for family %s: %v", family, err)
		return list
	}
	return append(list, stored...)
}

// Dispatch sends ev to every matching webhook in the background.
func (s *WebhookService) Dispatch(ev Event) {
	for _, wh := range s.targets(ev.Family) {
		s.pending.Add(1)
		go func(wh model.Webhook) {
			defer s.pending.Done()
			s.sendWebhook(wh, ev)
		}(wh)
	}
}

// Wait blocks until all dispatched webhooks finished.
func (s *WebhookService) Wait() {
	s.pending.Wait()
}

func (s *WebhookService) sendWebhook(wh model.Webhook, ev Event) {
	content := ev.text()
	if wh.Template != "" {
		tmpl, err := template.New("msg").Parse(wh.Template)
		if err == nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, ev); err == nil {
				content = buf.String()
			}
		}
	}

	payload, err := buildPayload(wh, content, ev)
	if err != nil {
		logger.Log.Errorf("Failed to marshal webhook payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		logger.Log.Errorf("Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Errorf("Failed to send webhook to %s: %v", wh.URL, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Log.Errorf("Webhook %s returned status: %d", wh.URL, resp.StatusCode)
	} else {
		logger.Log.Debugf("Webhook sent to %s", wh.URL)
	}
}

func buildPayload(wh model.Webhook, content string, ev Event) ([]byte, error) {
	switch wh.Platform {
	case "telegram":
		body := map[string]interface{}{
			"text":       content,
			"parse_mode": "Markdown",
		}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
		return json.Marshal(body)
	case "slack":
		return json.Marshal(map[string]interface{}{"text": content})
	default:
		return json.Marshal(map[string]interface{}{
			"text":  content,
			"event": ev,
		})
	}
}
