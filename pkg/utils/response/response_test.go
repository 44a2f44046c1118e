package response

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

func TestErrStatus(t *testing.T) {
	r := Err(errors.ErrQuotaExceeded)
	assert.Equal(t, http.StatusTooManyRequests, r.HTTPStatus())
	assert.Equal(t, errors.ErrQuotaExceeded.Code, r.Code)

	assert.Equal(t, http.StatusOK, Err(nil).HTTPStatus())
	assert.Equal(t, http.StatusNotFound, (&Response{Code: errors.ErrStoreNotFound.Code}).HTTPStatus())
}

func TestFailWritesErrno(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Accept-Language", "zh")

	Fail(c, errors.ErrChunkConfigInvalid.WithCause(stderrors.New("overlap >= max_tokens")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrChunkConfigInvalid.Code, body.Code)
	assert.Equal(t, "分块配置无效", body.Message)
}

func TestOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	OK(c, map[string]int{"chunks": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chunks":3`)
}

func TestPageComputesTotalPages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Page(c, []string{"a", "b"}, 5, 1, 2)

	var body struct {
		Data PageData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(5), body.Data.Total)
	assert.Equal(t, 3, body.Data.TotalPages)
}
