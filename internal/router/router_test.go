package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/auth"
	"github.com/laundryhub/api/internal/config"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/router"
	"github.com/laundryhub/api/internal/service"
	"github.com/laundryhub/api/internal/ws"
)

const testSecret = "router-secret"

type noOperators struct{}

func (noOperators) GetOperatorByEmail(context.Context, string) (database.Operator, error) {
	return database.Operator{}, context.Canceled
}

func (noOperators) GetOperatorByID(context.Context, uuid.UUID) (database.Operator, error) {
	return database.Operator{}, context.Canceled
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{JWTSecret: testSecret, AllowedOrigins: []string{"http://localhost:5173"}}
	// The service is never reached: every request below is refused by
	// middleware first.
	orders := service.NewOrderService(nil, nil, service.Options{})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	return router.New(cfg, router.Deps{
		Operators: noOperators{},
		Orders:    orders,
		Hub:       ws.NewHub(),
		Metrics:   metrics,
	})
}

func bearer(t *testing.T, stationID uuid.UUID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, uuid.New(), stationID, role, "Ana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + tok
}

func TestRouter(t *testing.T) {
	stationID := uuid.New()
	orderPath := "/stations/" + stationID.String() + "/orders/" + uuid.New().String() + "/lock"

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health", "GET", "/health", "", http.StatusOK},
		{"metrics", "GET", "/metrics", "", http.StatusOK},
		{"orders without token", "GET", "/stations/" + stationID.String() + "/orders", "", http.StatusUnauthorized},
		{"other station", "POST", orderPath, bearer(t, uuid.New(), enum.OperatorRoleStaff), http.StatusForbidden},
		{"sweep as staff", "POST", "/admin/sweep", bearer(t, stationID, enum.OperatorRoleStaff), http.StatusForbidden},
		{"unknown route", "GET", "/nope", "", http.StatusNotFound},
	}

	r := newTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d; body: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}
