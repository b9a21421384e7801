package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rifas-backend/internal/allocation"
	"rifas-backend/internal/ledger"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	"rifas-backend/internal/settlement"
	"rifas-backend/internal/settlement/api"
)

// stubLedger answers every lookup the same way; enough to drive the handler
// through its acknowledgment paths.
type stubLedger struct {
	getErr    error
	recordErr error
}

func (s *stubLedger) GetByReference(_ context.Context, reference string) (*models.Transaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &models.Transaction{
		ID:        "tx-1",
		Reference: reference,
		RaffleID:  "rifa-1",
		BuyerID:   "buyer-1",
		Quantity:  5,
		Status:    models.StatusPending,
	}, nil
}

func (s *stubLedger) RecordGatewayResponse(context.Context, string, string, []byte, models.Status) error {
	return s.recordErr
}

func (s *stubLedger) MarkFulfilled(context.Context, string, []string) error { return nil }

type stubAllocator struct{}

func (stubAllocator) Allocate(context.Context, string, int, allocation.Owner, string) ([]string, error) {
	return []string{"01", "02", "03", "04", "05"}, nil
}

type stubTickets struct{}

func (stubTickets) NumbersByTransaction(context.Context, string) ([]string, error) {
	return nil, nil
}

func newHandler(l *stubLedger) *api.Handler {
	machine := &settlement.Machine{
		Ledger:  l,
		Engine:  stubAllocator{},
		Tickets: stubTickets{},
		Claims:  settlement.NewMemoryClaims(),
		Logger:  logger.NewLogger(),
	}
	return api.NewHandler(machine, logger.NewLogger())
}

func postConfirmation(t *testing.T, handler *api.Handler, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/pagos/confirmacion", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Confirmation(rec, req)
	return rec
}

func TestConfirmationAcknowledgesValidForm(t *testing.T) {
	handler := newHandler(&stubLedger{})

	rec := postConfirmation(t, handler,
		"application/x-www-form-urlencoded",
		"x_ref_payco=99&x_response=Aceptada&x_cod_response=1&x_extra4=RIFA-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"cumplida":true`)
}

func TestConfirmationAcknowledgesUnrecognizedPayload(t *testing.T) {
	handler := newHandler(&stubLedger{})

	rec := postConfirmation(t, handler, "application/json", `{"nothing":"useful"}`)

	// The gateway retries on anything but 200 and eventually disables the
	// URL, so even garbage is acknowledged.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestConfirmationAcknowledgesUnknownReference(t *testing.T) {
	handler := newHandler(&stubLedger{getErr: ledger.ErrNotFound})

	rec := postConfirmation(t, handler,
		"application/x-www-form-urlencoded",
		"x_ref_payco=99&x_response=Aceptada&x_extra4=RIFA-desconocida")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conocida":false`)
}

func TestConfirmationAcknowledgesProcessingFailure(t *testing.T) {
	handler := newHandler(&stubLedger{recordErr: errors.New("db down")})

	rec := postConfirmation(t, handler,
		"application/x-www-form-urlencoded",
		"x_ref_payco=99&x_response=Aceptada&x_extra4=RIFA-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "will retry on redelivery")
}
