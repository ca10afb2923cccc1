package dispatch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/waaserr"
)

const testSecret = "s3cr3t"

var walletEndpoint = Endpoint{
	Name:       "create_wallet",
	Path:       "/api/v2/third/depositcode/generateStaticDepositCode",
	Mode:       security.ModeHMACPlain,
	Template:   security.MustTemplate("payload+timestamp+secret"),
	Contract:   canonical.Fields("wallet", "name", "refId", "accountType"),
	Version:    "2",
	BodyFormat: "JSON",
	SignField:  "sign",
}

var walletValues = canonical.Values{
	"name":        "Test User",
	"refId":       "ref_1700000000000",
	"accountType": "Merchant",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func testCreds(t *testing.T, cfg security.CredentialsConfig) *security.Credentials {
	t.Helper()
	if cfg.MerchantID == "" {
		cfg.MerchantID = "256620112345678"
	}
	if cfg.Secret == "" && cfg.SigningKey == nil {
		cfg.Secret = testSecret
	}
	creds, err := security.NewCredentials(cfg)
	require.NoError(t, err)
	return creds
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return key
}

func publicPEM(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// steppingClock advances one millisecond per reading.
func steppingClock(start int64) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.UnixMilli(next)
		next++
		return t
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSeal_GoldenSignatureAndHeaders(t *testing.T) {
	d, err := New(testLogger(), "https://sandbox.example", testCreds(t, security.CredentialsConfig{ClientAuthKey: "cak-1"}),
		WithClock(fixedClock(1700000000000)))
	require.NoError(t, err)

	env, err := d.Seal(Request{Endpoint: walletEndpoint, Values: walletValues}, 1)
	require.NoError(t, err)

	const sig = "bdec11799ed91f0c6f4d3aa636cdf8192b4e111b4c1a13b5167adf4f46c3bad2"
	require.Equal(t, sig, env.Signature)
	require.Equal(t, "1700000000000", env.Timestamp)
	require.Equal(t,
		`{"name":"Test User","refId":"ref_1700000000000","accountType":"Merchant","sign":"`+sig+`"}`,
		string(env.Body))

	require.Equal(t, "application/json", env.Header.Get("Content-Type"))
	require.Equal(t, "256620112345678", env.Header.Get("MerchantId"))
	require.Equal(t, sig, env.Header.Get("X-Signature"))
	require.Equal(t, "1700000000000", env.Header.Get("X-Timestamp"))
	require.Equal(t, "2", env.Header.Get("version"))
	require.Equal(t, "JSON", env.Header.Get("bodyFormat"))
	require.Equal(t, DefaultUserAgent, env.Header.Get("User-Agent"))
	require.Empty(t, env.Header.Get("Authorization"))
	// not opted in
	require.Empty(t, env.Header.Get("clientAuthKey"))
}

func TestSeal_BearerAndClientAuthKey(t *testing.T) {
	ep := walletEndpoint
	ep.BearerAuth = true
	ep.SendClientAuthKey = true
	ep.SignField = ""

	creds := testCreds(t, security.CredentialsConfig{PublicAPIKey: "OPAYPUB-1", ClientAuthKey: "cak-1"})
	d, err := New(testLogger(), "https://sandbox.example", creds, WithClock(fixedClock(1700000000000)))
	require.NoError(t, err)

	env, err := d.Seal(Request{Endpoint: ep, Values: walletValues}, 1)
	require.NoError(t, err)
	require.Equal(t, "Bearer OPAYPUB-1", env.Header.Get("Authorization"))
	require.Equal(t, "cak-1", env.Header.Get("clientAuthKey"))
	require.NotEqual(t, testSecret, env.Header.Get("clientAuthKey"))
	require.Equal(t, `{"name":"Test User","refId":"ref_1700000000000","accountType":"Merchant"}`, string(env.Body))

	noKey := testCreds(t, security.CredentialsConfig{})
	d, err = New(testLogger(), "https://sandbox.example", noKey)
	require.NoError(t, err)
	_, err = d.Seal(Request{Endpoint: ep, Values: walletValues}, 1)
	require.ErrorIs(t, err, waaserr.ErrInvalidKeyMaterial)
}

func TestSeal_ContractViolation(t *testing.T) {
	d, err := New(testLogger(), "https://sandbox.example", testCreds(t, security.CredentialsConfig{}))
	require.NoError(t, err)

	_, err = d.Seal(Request{Endpoint: walletEndpoint, Values: canonical.Values{"name": "x"}}, 1)
	require.ErrorIs(t, err, waaserr.ErrContractViolation)
}

func TestSeal_EncryptedAndSigned(t *testing.T) {
	processorKey := testKey(t)
	merchantKey := testKey(t)

	creds, err := security.NewCredentials(security.CredentialsConfig{
		MerchantID:            "256620112345678",
		SigningKey:            security.NewSoftwareKey(merchantKey),
		CounterpartyPublicKey: publicPEM(t, &processorKey.PublicKey),
	})
	require.NoError(t, err)

	ep := walletEndpoint
	ep.Mode = security.ModeRSAEncryptedAndSigned
	ep.SignField = ""

	d, err := New(testLogger(), "https://sandbox.example", creds, WithClock(fixedClock(1700000000000)))
	require.NoError(t, err)

	env, err := d.Seal(Request{Endpoint: ep, Values: walletValues}, 1)
	require.NoError(t, err)

	var body struct {
		ParamContent string `json:"paramContent"`
		Sign         string `json:"sign"`
	}
	require.NoError(t, json.Unmarshal(env.Body, &body))
	require.Equal(t, env.Signature, body.Sign)

	// the processor can open the payload
	dec, err := security.NewDecryptor(processorKey)
	require.NoError(t, err)
	pt, err := dec.Decrypt(body.ParamContent)
	require.NoError(t, err)
	require.Equal(t, `{"name":"Test User","refId":"ref_1700000000000","accountType":"Merchant"}`, string(pt))

	// and check the signature over ciphertext+timestamp
	require.NoError(t, security.VerifyRSA(&merchantKey.PublicKey, []byte(body.ParamContent+"1700000000000"), body.Sign))
}

func TestSeal_EncryptedPayloadTooLarge(t *testing.T) {
	processorKey := testKey(t)
	creds, err := security.NewCredentials(security.CredentialsConfig{
		MerchantID:            "m1",
		SigningKey:            security.NewSoftwareKey(testKey(t)),
		CounterpartyPublicKey: publicPEM(t, &processorKey.PublicKey),
	})
	require.NoError(t, err)

	ep := walletEndpoint
	ep.Mode = security.ModeRSAEncryptedAndSigned
	ep.SignField = ""

	d, err := New(testLogger(), "https://sandbox.example", creds)
	require.NoError(t, err)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	_, err = d.Seal(Request{Endpoint: ep, Values: canonical.Values{"name": string(long), "refId": "r", "accountType": "a"}}, 1)
	require.ErrorIs(t, err, waaserr.ErrPayloadTooLarge)
}

func TestDispatch_Success(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"00000","message":"SUCCESSFUL","data":{"depositCode":"D1"}}`))
	}))
	defer srv.Close()

	d, err := New(testLogger(), srv.URL, testCreds(t, security.CredentialsConfig{}), WithClock(fixedClock(1700000000000)))
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, resp.Attempts)
	require.JSONEq(t, `{"code":"00000","message":"SUCCESSFUL","data":{"depositCode":"D1"}}`, string(resp.Body))

	require.Equal(t, http.MethodPost, got.Method)
	require.Equal(t, walletEndpoint.Path, got.URL.Path)
	require.Equal(t, "bdec11799ed91f0c6f4d3aa636cdf8192b4e111b4c1a13b5167adf4f46c3bad2", got.Header.Get("X-Signature"))
	require.Contains(t, string(gotBody), `"sign":"bdec1179`)
}

func TestDispatch_HTTPErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"02001","message":"invalid signature"}`))
	}))
	defer srv.Close()

	d, err := New(testLogger(), srv.URL, testCreds(t, security.CredentialsConfig{}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Timeout: time.Second}))
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_RetriesDNSFailureWithFreshSignature(t *testing.T) {
	var mu sync.Mutex
	var timestamps, signatures []string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		timestamps = append(timestamps, r.Header.Get("X-Timestamp"))
		signatures = append(signatures, r.Header.Get("X-Signature"))
		return nil, &net.DNSError{Err: "no such host", Name: "sandbox.invalid", IsNotFound: true}
	})

	d, err := New(testLogger(), "https://sandbox.invalid", testCreds(t, security.CredentialsConfig{}),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Timeout: time.Second}),
		WithClock(steppingClock(1700000000000)))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, waaserr.ErrTransientNetwork)
	require.True(t, waaserr.Retryable(err))

	require.Len(t, timestamps, 3)
	require.Equal(t, []string{"1700000000000", "1700000000001", "1700000000002"}, timestamps)
	require.NotEqual(t, signatures[0], signatures[1])
	require.NotEqual(t, signatures[1], signatures[2])
}

func TestDispatch_DialFailureIsRetried(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	d, err := New(testLogger(), "https://sandbox.example", testCreds(t, security.CredentialsConfig{}),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, waaserr.ErrTransientNetwork)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDispatch_ReadFailureIsNotRetried(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	})

	d, err := New(testLogger(), "https://sandbox.example", testCreds(t, security.CredentialsConfig{}),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, waaserr.ErrNetwork)
	require.False(t, waaserr.Retryable(err))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_AttemptTimeoutIsNetworkFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		w.Write([]byte(`{"code":"00000"}`))
	}))
	defer srv.Close()

	d, err := New(testLogger(), srv.URL, testCreds(t, security.CredentialsConfig{}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, waaserr.ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, errors.Is(err, waaserr.ErrTransientNetwork))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_CancelDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return nil, &net.DNSError{Err: "no such host", Name: "sandbox.invalid"}
	})

	d, err := New(testLogger(), "https://sandbox.invalid", testCreds(t, security.CredentialsConfig{}),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Hour}))
	require.NoError(t, err)

	start := time.Now()
	_, err = d.Dispatch(ctx, Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Minute)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_CancelDuringSleepAfterTransientFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "sandbox.invalid"}
	})

	d, err := New(testLogger(), "https://sandbox.invalid", testCreds(t, security.CredentialsConfig{}),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Hour}))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = d.Dispatch(ctx, Request{Endpoint: walletEndpoint, Values: walletValues})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEndpointValidate(t *testing.T) {
	require.NoError(t, walletEndpoint.Validate())

	bad := walletEndpoint
	bad.Mode = "plain"
	require.Error(t, bad.Validate())

	bad = walletEndpoint
	bad.Template = nil
	require.Error(t, bad.Validate())

	bad = walletEndpoint
	bad.Mode = security.ModeRSAEncryptedAndSigned
	require.Error(t, bad.Validate())
}
