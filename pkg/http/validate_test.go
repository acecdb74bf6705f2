package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listRequest struct {
	TenantID string `query:"tenant_id" json:"tenant_id" validate:"required"`
	Model    string `query:"model" json:"model" default:"delinquency" validate:"oneof=delinquency trial_conversion"`
	Limit    int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

func bind(t *testing.T, target string, req interface{}) interface{} {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return ReadAndValidateRequest(c, req)
}

func TestReadAndValidateAppliesDefaults(t *testing.T) {
	req := &listRequest{}
	require.Nil(t, bind(t, "/?tenant_id=t1", req))
	assert.Equal(t, "delinquency", req.Model)
	assert.Equal(t, 500, req.Limit)
}

func TestReadAndValidateReportsWireNames(t *testing.T) {
	verr := bind(t, "/?model=arima&limit=9000", &listRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 3)

	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_REQUIRED", byField["tenant_id"].Code)
	assert.Equal(t, "model must be one of: delinquency, trial_conversion", byField["model"].Message)
	assert.Equal(t, "5000", byField["limit"].Param)
}

func TestReadAndValidateBindError(t *testing.T) {
	errs, ok := bind(t, "/?tenant_id=t1&limit=many", &listRequest{}).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}

func TestAppErrorResponseHidesPlainErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, assert.AnError))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), assert.AnError.Error()))

	var env struct {
		Data []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "ERR_INTERNAL", env.Data[0].Code)
}

func TestNewListRendersEmptyRows(t *testing.T) {
	b, err := json.Marshal(NewList[int](nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[],"total":0}`, string(b))
}
