package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/api/middleware"
	"github.com/qs3c/promo_credit_server/internal/pkg/lock"
	"github.com/qs3c/promo_credit_server/internal/pkg/response"
	"github.com/qs3c/promo_credit_server/internal/repository"
	"github.com/qs3c/promo_credit_server/internal/service"
	"github.com/qs3c/promo_credit_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	DB *gorm.DB
}

func setupHandlers(t *testing.T) (*PromotionHandler, *CreditHandler, *testContext, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	userRepo := repository.NewUserRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	uow := repository.NewUnitOfWork(db)

	guard := service.NewUserAccessGuard(userRepo, cfg.Access)
	ledgerService := service.NewLedgerService(ledgerRepo, orgRepo, uow, lock.NewLocalLocker(), guard, nil, nil, nil)
	promotionService := service.NewPromotionService(
		repository.NewPackageRepository(db),
		repository.NewPromotionRepository(db),
		orgRepo,
		ledgerService,
		guard,
		cfg.Promotion,
		nil,
		nil,
	)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return NewPromotionHandler(promotionService, nil), NewCreditHandler(ledgerService, nil), &testContext{DB: db}, cleanup
}

// mockAuth 模拟认证中间件
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "unexpected data: %v", resp.Data)
	return data
}
