package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const submitTimeout = 15 * time.Second

// ErrRejected is returned when the rail refuses the transfer instruction
// outright (as opposed to a transport failure, which is retryable).
var ErrRejected = errors.New("transfer rejected by settlement rail")

// TransferRequest is the instruction handed to the external rail. The rail
// settles asynchronously and reports the outcome to CallbackURL.
type TransferRequest struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	Amount          int64     `json:"amount"`
	DestinationKey  string    `json:"destination_key"`
	CallbackURL     string    `json:"callback_url"`
}

// Rail is the outbound settlement interface. Submission is fire-and-forget:
// a nil return means the rail accepted the instruction, not that money moved.
type Rail interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) error
}

// HTTPRail submits transfer instructions to the rail's HTTP endpoint.
type HTTPRail struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPRail(baseURL string) *HTTPRail {
	return &HTTPRail{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: submitTimeout},
	}
}

var _ Rail = (*HTTPRail)(nil)

func (r *HTTPRail) SubmitTransfer(ctx context.Context, treq TransferRequest) error {
	body, err := json.Marshal(treq)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("settlement rail unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
