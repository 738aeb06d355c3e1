package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
)

const (
	contentTypeJSON   = "application/json"
	codeMessageFormat = "Votre code de paiement: %s"
)

var (
	ErrGatewayEndpointRequired = errors.New("sms gateway endpoint is required")
	ErrGatewayRejected         = errors.New("sms gateway rejected message")
)

// SMSGateway posts one-time codes to an HTTP SMS provider.
type SMSGateway struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewSMSGateway returns a CodeSender for endpoint. A nil client uses http.DefaultClient.
func NewSMSGateway(endpoint string, token string, client *http.Client) (*SMSGateway, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, ErrGatewayEndpointRequired
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSGateway{endpoint: trimmed, token: strings.TrimSpace(token), client: client}, nil
}

type smsPayload struct {
	To        string `json:"to"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
	ExpiresAt int64  `json:"expires_at"`
}

// SendCode delivers the code and fails on any non-2xx response.
func (gateway *SMSGateway) SendCode(ctx context.Context, delivery ledger.CodeDelivery) error {
	body, err := json.Marshal(smsPayload{
		To:        delivery.PhoneNumber.String(),
		Channel:   delivery.Method.String(),
		Message:   fmt.Sprintf(codeMessageFormat, delivery.Code.String()),
		Reference: delivery.AttemptID.String(),
		ExpiresAt: delivery.ExpiresUnixUTC,
	})
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	if gateway.token != "" {
		request.Header.Set("Authorization", "Bearer "+gateway.token)
	}
	response, err := gateway.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, response.StatusCode)
	}
	return nil
}
