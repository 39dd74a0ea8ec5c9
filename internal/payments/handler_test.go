package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"paymentservice/internal/common/logger"
	"paymentservice/pkg/eventstore"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) *httptest.Server {
	t.Helper()
	svc := newTestService(t, eventstore.NewMemoryStore())
	h := NewHandler(svc, limiter, logger.New(logger.WithOutput(io.Discard)))
	h.now = func() time.Time { return testTime }
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func unlimited() *rate.Limiter { return rate.NewLimiter(rate.Inf, 0) }

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func connectTrustlyHTTP(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp, _ := do(t, srv, http.MethodPost, "/members/1337/trustly-account",
		`{"hedvigOrderId":"`+orderA.String()+`","accountId":"acc-1","directDebitMandateActive":true,"bank":"Handelsbanken"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandlerMemberLifecycle(t *testing.T) {
	srv := newTestServer(t, unlimited())

	resp, _ := do(t, srv, http.MethodGet, "/members/1337", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/members/1337", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"memberId":"1337"}`, body)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/members/1337", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m Member
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, testMemberID, m.ID)
}

func TestHandlerCharge(t *testing.T) {
	srv := newTestServer(t, unlimited())
	do(t, srv, http.MethodPost, "/members/1337", "")

	resp, body := do(t, srv, http.MethodPost, "/members/1337/charge", `{"amount":{"amount":"100.00","currency":"SEK"}}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var rejected ChargeMemberResult
	require.NoError(t, json.Unmarshal([]byte(body), &rejected))
	assert.Equal(t, ChargeNoPayinMethodFound, rejected.Type)

	connectTrustlyHTTP(t, srv)

	txID := uuid.New()
	resp, body = do(t, srv, http.MethodPost, "/members/1337/charge",
		`{"transactionId":"`+txID.String()+`","amount":{"amount":100.00,"currency":"SEK"},"email":"member@example.com"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"transactionId":"`+txID.String()+`"}`, body)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/charge",
		`{"transactionId":"`+txID.String()+`","amount":{"amount":"100.00","currency":"SEK"}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/members/1337/transactions/"+txID.String()+"/charge-completed",
		`{"amount":{"amount":"99.99","currency":"SEK"}}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error\n", body)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/transactions/"+txID.String()+"/charge-completed",
		`{"amount":{"amount":"100","currency":"SEK"},"timestamp":"2024-03-02T08:00:00Z"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/transactions/"+txID.String()+"/charge-failed", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandlerPayout(t *testing.T) {
	srv := newTestServer(t, unlimited())
	do(t, srv, http.MethodPost, "/members/1337", "")

	payout := `{"amount":{"amount":"20000","currency":"SEK"},"dateOfBirth":"1990-01-01","firstName":"Test","lastName":"Testsson"}`

	resp, _ := do(t, srv, http.MethodPost, "/members/1337/payout?category=marketing", payout)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/payout", payout)
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)

	connectTrustlyHTTP(t, srv)

	resp, body := do(t, srv, http.MethodPost, "/members/1337/payout?referenceId=claim-1&handler=ops", payout)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]uuid.UUID
	require.NoError(t, json.Unmarshal([]byte(body), &accepted))
	txID := accepted["transactionId"]
	require.NotEqual(t, uuid.Nil, txID)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/transactions/"+txID.String()+"/payout-completed",
		`{"amount":{"amount":"20000.00","currency":"SEK"}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/payout", `{"amount":{"amount":"1","currency":"SEK"},"dateOfBirth":"01/01/1990"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerAdyenAccounts(t *testing.T) {
	srv := newTestServer(t, unlimited())
	do(t, srv, http.MethodPost, "/members/1337", "")

	resp, _ := do(t, srv, http.MethodPost, "/members/1337/adyen-account", `{"recurringDetailReference":"rec-1","tokenStatus":"authorised"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337/adyen-payout-account", `{"shopperReference":"shopper-1","tokenStatus":"BOGUS"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/members/1337", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m Member
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	require.NotNil(t, m.AdyenAccount)
	assert.Equal(t, AdyenAuthorised, m.AdyenAccount.Status)
	assert.Nil(t, m.AdyenPayoutAccount)
}

func TestHandlerBadRequests(t *testing.T) {
	srv := newTestServer(t, unlimited())
	do(t, srv, http.MethodPost, "/members/1337", "")

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/members/1337/charge", `{"amount":`},
		{"bad transaction id", "/members/1337/transactions/not-a-uuid/charge-failed", ""},
		{"missing account id", "/members/1337/trustly-account", `{"hedvigOrderId":"` + orderA.String() + `"}`},
		{"short currency", "/members/1337/charge", `{"amount":{"amount":"1","currency":"KR"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandlerRateLimit(t *testing.T) {
	srv := newTestServer(t, rate.NewLimiter(0, 1))

	resp, _ := do(t, srv, http.MethodPost, "/members/1337", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/members/1337", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/members/1337", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerEvents(t *testing.T) {
	srv := newTestServer(t, unlimited())
	do(t, srv, http.MethodPost, "/members/1337", "")
	connectTrustlyHTTP(t, srv)

	resp, body := do(t, srv, http.MethodGet, "/events?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page eventPage
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, "MemberCreated", page.Events[0].Type)
	assert.Equal(t, testMemberID, page.Events[0].MemberID)
	assert.Equal(t, page.Events[1].ID, page.Next)

	resp, body = do(t, srv, http.MethodGet, "/events?after="+strconv.FormatInt(page.Next, 10), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, "DirectDebitConnected", page.Events[0].Type)

	resp, _ = do(t, srv, http.MethodGet, "/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/events?after=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
