package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"keygate/api/internal/config"
)

func updatesTestRouter(rollout config.RolloutConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := HandlerSet{cfg: &config.AppConfig{Rollout: rollout}}

	engine := gin.New()
	engine.GET("/check", h.UpdateCheck)
	return engine
}

func checkUpdate(t *testing.T, engine *gin.Engine, query string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/check"+query, nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestUpdateCheckRequiresDeviceID(t *testing.T) {
	engine := updatesTestRouter(config.RolloutConfig{Percentage: 100})

	code, _ := checkUpdate(t, engine, "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateCheckDefaultsToStableChannel(t *testing.T) {
	engine := updatesTestRouter(config.RolloutConfig{Percentage: 100})

	code, body := checkUpdate(t, engine, "?deviceId=dev_1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stable", body["channel"])
	require.Equal(t, true, body["inRollout"])
	require.Equal(t, float64(100), body["percentage"])
}

func TestUpdateCheckUsesChannelOverride(t *testing.T) {
	engine := updatesTestRouter(config.RolloutConfig{
		Percentage: 100,
		Channels:   map[string]int{"stable": 0, "beta": 100},
	})

	_, stable := checkUpdate(t, engine, "?deviceId=dev_1&channel=stable")
	require.Equal(t, false, stable["inRollout"])
	require.Equal(t, float64(0), stable["percentage"])

	_, beta := checkUpdate(t, engine, "?deviceId=dev_1&channel=beta")
	require.Equal(t, true, beta["inRollout"])
	require.Equal(t, float64(100), beta["percentage"])
}

func TestUpdateCheckUnknownChannelFallsBackToDefault(t *testing.T) {
	engine := updatesTestRouter(config.RolloutConfig{
		Percentage: 0,
		Channels:   map[string]int{"beta": 100},
	})

	_, body := checkUpdate(t, engine, "?deviceId=dev_1&channel=nightly")
	require.Equal(t, "nightly", body["channel"])
	require.Equal(t, false, body["inRollout"])
}

func TestUpdateCheckDeterministicPerDeviceAndChannel(t *testing.T) {
	engine := updatesTestRouter(config.RolloutConfig{Percentage: 50})

	_, first := checkUpdate(t, engine, "?deviceId=dev_42&channel=stable")
	for i := 0; i < 10; i++ {
		_, again := checkUpdate(t, engine, "?deviceId=dev_42&channel=stable")
		require.Equal(t, first["inRollout"], again["inRollout"])
	}
}
