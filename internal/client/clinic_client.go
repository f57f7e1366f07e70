package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hcen_sync/internal/auth"
	"hcen_sync/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownClinic = errors.New("unknown clinic")

type decisionBody struct {
	TenantID uuid.UUID `json:"tenantId"`
}

type decisionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ClinicClient - центр пересылает решения пациента в клинику-владельца.
type ClinicClient struct {
	http   *resty.Client
	urls   map[uuid.UUID]string
	tokens *auth.TokenService
	logger *zap.Logger
}

func NewClinicClient(urls map[uuid.UUID]string, timeout time.Duration, tokens *auth.TokenService, logger *zap.Logger) *ClinicClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClinicClient{
		http:   newRestyClient("", timeout),
		urls:   urls,
		tokens: tokens,
		logger: logger,
	}
}

// RelayDecision вызывает PUT /api/solicitudes-acceso/{id}/approve|reject в клинике tenantID.
// 404/403/409 - это ответ клиники, а не ошибка транспорта.
func (c *ClinicClient) RelayDecision(ctx context.Context, tenantID, requestID uuid.UUID, approve bool) (models.DecisionOutcome, error) {
	baseURL, ok := c.urls[tenantID]
	if !ok {
		return models.DecisionOutcome{}, fmt.Errorf("%w: %s", ErrUnknownClinic, tenantID)
	}

	action := "reject"
	if approve {
		action = "approve"
	}

	req, err := authorized(ctx, c.http, c.tokens)
	if err != nil {
		return models.DecisionOutcome{}, err
	}

	var body decisionResponse
	resp, err := req.
		SetBody(decisionBody{TenantID: tenantID}).
		SetResult(&body).
		SetError(&body).
		Put(fmt.Sprintf("%s/api/solicitudes-acceso/%s/%s", baseURL, requestID, action))
	if err != nil {
		return models.DecisionOutcome{}, fmt.Errorf("relay %s to clinic: %w", action, err)
	}

	out := models.DecisionOutcome{HTTPStatus: resp.StatusCode(), Message: body.Message}
	if out.Message == "" {
		out.Message = body.Error
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		out.Status = models.DecisionStatusOK
	case http.StatusNotFound:
		out.Status = models.DecisionStatusNotFound
	case http.StatusForbidden:
		out.Status = models.DecisionStatusForbidden
	case http.StatusConflict:
		out.Status = models.DecisionStatusConflict
	default:
		return out, fmt.Errorf("relay %s to clinic: unexpected status %d", action, resp.StatusCode())
	}

	c.logger.Info("decision relayed to clinic",
		zap.String("request_id", requestID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("action", action),
		zap.String("status", out.Status),
	)
	return out, nil
}
