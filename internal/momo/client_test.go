package momo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status string, tokenCalls *int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		*tokenCalls++
		user, key, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "api-user", user)
		require.Equal(t, "api-key", key)
		require.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/collection/v1_0/requesttopay", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Reference-Id"))
		require.Equal(t, "sandbox", r.Header.Get("X-Target-Environment"))
		require.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "1000", body["amount"])
		require.Equal(t, "UGX", body["currency"])
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/collection/v1_0/requesttopay/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": status})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		APIUser:           "api-user",
		APIKey:            "api-key",
		SubscriptionKey:   "sub-key",
		TargetEnvironment: "sandbox",
	}
}

func TestRequestToPayAndStatus(t *testing.T) {
	tokenCalls := 0
	srv := newTestServer(t, "SUCCESSFUL", &tokenCalls)
	client := New(testConfig(srv.URL))

	referenceID, err := client.RequestToPay(context.Background(), "256772123456", 1000, "TADIPA-1")
	require.NoError(t, err)
	require.NotEmpty(t, referenceID)

	report, err := client.Status(context.Background(), referenceID)
	require.NoError(t, err)
	require.Equal(t, "SUCCESSFUL", report.Status)
}

func TestAccessTokenIsCached(t *testing.T) {
	tokenCalls := 0
	srv := newTestServer(t, "PENDING", &tokenCalls)
	client := New(testConfig(srv.URL))

	_, err := client.RequestToPay(context.Background(), "256772123456", 1000, "TADIPA-1")
	require.NoError(t, err)
	_, err = client.Status(context.Background(), "some-ref")
	require.NoError(t, err)

	require.Equal(t, 1, tokenCalls, "token should be fetched once and reused")
}

func TestStatusReasonFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"status":"FAILED","reason":"PAYER_NOT_FOUND"}`, "PAYER_NOT_FOUND"},
		{`{"status":"FAILED","reason":{"code":"PAYER_LIMIT_REACHED","message":"payer limit reached"}}`, "payer limit reached"},
		{`{"status":"FAILED"}`, ""},
	}
	for _, c := range cases {
		var resp statusResponse
		require.NoError(t, json.Unmarshal([]byte(c.raw), &resp))
		require.Equal(t, c.want, resp.reason())
	}
}
