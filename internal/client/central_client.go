package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hcen_sync/internal/auth"
	"hcen_sync/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type policyCheckResponse struct {
	Granted bool `json:"granted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CentralClient - вызовы клиники в центральный узел.
type CentralClient struct {
	http   *resty.Client
	tokens *auth.TokenService
	logger *zap.Logger
}

func NewCentralClient(baseURL string, timeout time.Duration, tokens *auth.TokenService, logger *zap.Logger) *CentralClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CentralClient{
		http:   newRestyClient(baseURL, timeout),
		tokens: tokens,
		logger: logger,
	}
}

// NotifyAccessRequest кладёт уведомление во входящие пациента.
func (c *CentralClient) NotifyAccessRequest(ctx context.Context, patientID string, summary models.AccessRequestSummary) error {
	req, err := authorized(ctx, c.http, c.tokens)
	if err != nil {
		return err
	}

	var apiErr errorResponse
	resp, err := req.
		SetBody(models.AccessNotification{PatientID: patientID, Request: summary}).
		SetError(&apiErr).
		Post("/api/notifications/access-requests")
	if err != nil {
		return fmt.Errorf("notify central: %w", err)
	}
	if resp.StatusCode() != http.StatusAccepted && resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("notify central: unexpected status %d: %s", resp.StatusCode(), apiErr.Error)
	}

	c.logger.Debug("central notified",
		zap.String("request_id", summary.RequestID.String()),
	)
	return nil
}

// IsGranted спрашивает у центра, есть ли действующая политика доступа.
func (c *CentralClient) IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error) {
	var out policyCheckResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"documentId":     documentID.String(),
			"professionalId": professionalID,
			"tenantId":       tenantID.String(),
		}).
		SetResult(&out).
		Get("/api/access-policies/check")
	if err != nil {
		return false, fmt.Errorf("check access policy: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("check access policy: unexpected status %d", resp.StatusCode())
	}
	return out.Granted, nil
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func authorized(ctx context.Context, c *resty.Client, tokens *auth.TokenService) (*resty.Request, error) {
	req := c.R().SetContext(ctx)
	if tokens == nil {
		return req, nil
	}
	token, err := tokens.Issue("hcen-sync")
	if err != nil {
		return nil, err
	}
	return req.SetAuthToken(token), nil
}
