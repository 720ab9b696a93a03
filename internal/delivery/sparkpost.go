package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// SparkPostSender sends through the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPostSender targets baseURL (the v1 API root). A nil client gets a
// retrying client with the given timeout.
func NewSparkPostSender(apiKey, baseURL string, client httpretry.HTTPDoer, timeout time.Duration) *SparkPostSender {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2)
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type transmission struct {
	Options    transmissionOptions `json:"options"`
	Recipients []recipient         `json:"recipients"`
	Content    content             `json:"content"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

type transmissionOptions struct {
	Transactional bool `json:"transactional"`
	OpenTracking  bool `json:"open_tracking"`
	ClickTracking bool `json:"click_tracking"`
}

type recipient struct {
	Address struct {
		Email string `json:"email"`
	} `json:"address"`
}

type content struct {
	From    sender            `json:"from"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sender struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *SparkPostSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SparkPost API key not configured")
	}

	t := transmission{
		Options: transmissionOptions{
			Transactional: msg.Category != domain.CategoryNewsletter && msg.Category != domain.CategoryCampaign,
		},
		Recipients: make([]recipient, 1),
		Content: content{
			From:    sender{Email: msg.From, Name: msg.FromName},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
			ReplyTo: msg.ReplyTo,
			Headers: msg.Headers,
		},
	}
	t.Recipients[0].Address.Email = msg.To
	if msg.Category != "" {
		t.Metadata = map[string]string{"category": string(msg.Category)}
	}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SparkPost request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return &domain.SendResult{
			Success:  false,
			Provider: domain.ProviderSparkPost,
			Error:    fmt.Sprintf("SparkPost error %d: %s", resp.StatusCode, sparkPostError(respBody)),
		}, nil
	}

	var result struct {
		Results struct {
			ID                  string `json:"id"`
			TotalAcceptedRecips int    `json:"total_accepted_recipients"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode SparkPost response: %w", err)
	}
	if result.Results.TotalAcceptedRecips == 0 {
		return &domain.SendResult{
			Success:  false,
			Provider: domain.ProviderSparkPost,
			Error:    "SparkPost accepted no recipients",
		}, nil
	}

	logger.Debug("sparkpost accepted", "to", msg.To, "message_id", result.Results.ID)
	return &domain.SendResult{
		Success:   true,
		MessageID: result.Results.ID,
		Provider:  domain.ProviderSparkPost,
		SentAt:    time.Now().UTC(),
	}, nil
}

// sparkPostError pulls the first error message out of an API error body.
func sparkPostError(body []byte) string {
	var e struct {
		Errors []struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &e) == nil && len(e.Errors) > 0 {
		if e.Errors[0].Description != "" {
			return e.Errors[0].Message + ": " + e.Errors[0].Description
		}
		return e.Errors[0].Message
	}
	return strings.TrimSpace(string(body))
}
