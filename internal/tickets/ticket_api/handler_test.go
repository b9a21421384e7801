package ticket_api_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	ticketdb "rifas-backend/internal/tickets/db"
	"rifas-backend/internal/tickets/ticket_api"
)

func setupRouter(t *testing.T) (chi.Router, *ticketdb.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Raffle)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.TicketOwnership)(nil)))

	t.Cleanup(func() { bunDB.Close() })

	raffle := &models.Raffle{
		ID:           "rifa-1",
		Title:        "Rifa de prueba",
		TotalTickets: 100,
		UnitPrice:    5000,
	}
	_, err = bunDB.NewInsert().Model(raffle).Exec(ctx)
	require.NoError(t, err)

	store := &ticketdb.DB{
		Bun:          bunDB,
		AllowedSizes: []int{100},
		PageSize:     50,
	}
	handler := ticket_api.NewHandler(store, logger.NewLogger())

	r := chi.NewRouter()
	r.Post("/api/rifas/{rifaID}/numeros/generar", handler.GeneratePool)
	r.Get("/api/rifas/{rifaID}/numeros/disponibles", handler.AvailableCount)
	return r, store
}

func TestGeneratePoolUsesRaffleDefaultOnEmptyBody(t *testing.T) {
	router, store := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rifas/rifa-1/numeros/generar", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	count, err := store.CountByRaffle(context.Background(), "rifa-1")
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestGeneratePoolRejectsMalformedBody(t *testing.T) {
	router, store := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rifas/rifa-1/numeros/generar",
		strings.NewReader(`{"total_numeros": "cien"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// A body that fails to parse must not fall through to the raffle default.
	require.Equal(t, http.StatusBadRequest, rec.Code)

	count, err := store.CountByRaffle(context.Background(), "rifa-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGeneratePoolUnknownRaffle(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rifas/rifa-inexistente/numeros/generar", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailableCountReflectsPool(t *testing.T) {
	router, store := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, store.GenerateTickets(ctx, "rifa-1", 100))

	req := httptest.NewRequest(http.MethodGet, "/api/rifas/rifa-1/numeros/disponibles", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disponibles":100`)
	assert.Contains(t, rec.Body.String(), `"total":100`)
}
