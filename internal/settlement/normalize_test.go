package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rifas-backend/internal/models"
	"rifas-backend/internal/settlement"
)

func TestNormalizeConfirmationForm(t *testing.T) {
	body := []byte("x_ref_payco=998877&x_transaction_id=123&x_response=Aceptada&x_cod_response=1&x_extra4=RIFA-rifa-1-1700000000-000000001&x_extra1=rifa-1")

	n, err := settlement.Normalize("application/x-www-form-urlencoded", body)
	require.NoError(t, err)

	assert.Equal(t, "RIFA-rifa-1-1700000000-000000001", n.Reference)
	assert.Equal(t, "998877", n.RefPayco)
	assert.Equal(t, models.StatusApproved, n.Status)
	assert.False(t, n.NeedsFetch)
	assert.Equal(t, body, n.Raw)
}

func TestNormalizeFlatJSON(t *testing.T) {
	body := []byte(`{"x_ref_payco":"998877","x_response":"Rechazada","x_cod_response":"3","x_extra4":"RIFA-1"}`)

	n, err := settlement.Normalize("application/json", body)
	require.NoError(t, err)

	assert.Equal(t, "RIFA-1", n.Reference)
	assert.Equal(t, models.StatusRejected, n.Status)
	assert.False(t, n.NeedsFetch)
}

func TestNormalizeNestedCheckoutJSON(t *testing.T) {
	body := []byte(`{"success":true,"data":{"x_ref_payco":"55","x_response":"Pendiente","x_cod_response":"2","x_extra4":"RIFA-2"}}`)

	n, err := settlement.Normalize("application/json", body)
	require.NoError(t, err)

	assert.Equal(t, "RIFA-2", n.Reference)
	assert.Equal(t, models.StatusPending, n.Status)
}

func TestNormalizeBareReference(t *testing.T) {
	body := []byte(`{"ref_payco":"998877"}`)

	n, err := settlement.Normalize("application/json", body)
	require.NoError(t, err)

	assert.True(t, n.NeedsFetch)
	assert.Equal(t, "998877", n.RefPayco)
	assert.Empty(t, n.Reference)
	assert.Equal(t, models.StatusUnknown, n.Status)
}

func TestNormalizeFallsBackToRefPayco(t *testing.T) {
	// No merchant echo field; the gateway id doubles as the reference.
	body := []byte("x_ref_payco=998877&x_response=Aceptada")

	n, err := settlement.Normalize("application/x-www-form-urlencoded", body)
	require.NoError(t, err)
	assert.Equal(t, "998877", n.Reference)
}

func TestNormalizeUnrecognizedPayload(t *testing.T) {
	_, err := settlement.Normalize("application/json", []byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, settlement.ErrNoReference)

	_, err = settlement.Normalize("application/json", []byte(`not json at all`))
	assert.ErrorIs(t, err, settlement.ErrNoReference)
}

func TestMapGatewayStatus(t *testing.T) {
	cases := []struct {
		response string
		code     string
		want     models.Status
	}{
		{"Aceptada", "", models.StatusApproved},
		{"", "1", models.StatusApproved},
		{"Pendiente", "", models.StatusPending},
		{"", "2", models.StatusPending},
		{"Fallida", "", models.StatusRejected},
		{"Rechazada", "", models.StatusRejected},
		{"", "3", models.StatusRejected},
		{"", "4", models.StatusRejected},
		{"Cancelada", "", models.StatusCanceled},
		{"Expirada", "", models.StatusExpired},
		{"Caducada", "", models.StatusExpired},
		{"Reversada", "", models.StatusRefunded},
		{"Algo Raro", "99", models.StatusUnknown},
		{"", "", models.StatusUnknown},
	}
	for _, tc := range cases {
		got := settlement.MapGatewayStatus(tc.response, tc.code)
		assert.Equal(t, tc.want, got, "response=%q code=%q", tc.response, tc.code)
	}
}
