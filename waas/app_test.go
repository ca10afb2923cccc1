package waas_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/waas"
)

func TestApp(t *testing.T) {
	cfg := waas.DefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.OPay.BaseURL = "http://127.0.0.1:1"
	cfg.OPay.MerchantID = "256620112345678"
	cfg.OPay.Secret = "s3cr3t"
	cfg.Retry.Delay = 10 * time.Millisecond

	rec := waas.NewMemoryRecorder()
	app := waas.NewApp(slog.New(slog.NewTextHandler(io.Discard)), cfg)
	app.Recorder = rec
	require.NoError(t, app.Start())
	t.Cleanup(app.Shutdown)

	base := "http://" + app.Addr

	t.Run("liveness and readiness", func(t *testing.T) {
		for _, path := range []string{"/-/live", "/-/ready"} {
			res, err := http.Get(base + path)
			require.NoError(t, err)
			res.Body.Close()
			require.Equal(t, http.StatusOK, res.StatusCode, path)
		}
	})

	t.Run("signed callback lands in the ledger", func(t *testing.T) {
		body := `{"status":"SUCCESS","transactionId":"T1","depositCode":"D1","depositAmount":"100.00","currency":"NGN"}`
		req, err := http.NewRequest(http.MethodPost, base+"/api/wallets/callback", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-Opay-Tranid", "T1")
		req.Header.Set("MerchantId", "256620112345678")
		req.Header.Set("X-Signature", "57e826436f1b55f74956cb6b68c42032ef116697c4a9b300ba5d90d5a8fb7e86")

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		reply, _ := io.ReadAll(res.Body)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.JSONEq(t, `{"code":"00000","message":"SUCCESSFUL"}`, string(reply))

		events := rec.Events()
		require.Len(t, events, 1)
		require.True(t, events[0].Authenticated)
		require.Equal(t, "100.00", events[0].Amount)
	})

	t.Run("processor unreachable", func(t *testing.T) {
		res, err := http.Post(base+"/api/wallets/balance", "application/json", strings.NewReader(`{"depositCode":"1"}`))
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	})
}
