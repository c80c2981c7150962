package dexcom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalsync/vitalsync/internal/cgm/domain"
)

var testAccount = domain.Account{
	Username: "user@example.com",
	Password: "hunter2",
	Region:   "us",
}

func newShareClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWithTransport(srv.Client(), map[string]string{"us": srv.URL})
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestFetchCurrentReading(t *testing.T) {
	readingTS := time.Date(2026, 8, 20, 11, 55, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/General/AuthenticatePublisherAccount", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "user@example.com", body["accountName"])
		assert.Equal(t, applicationID, body["applicationId"])
		json.NewEncoder(w).Encode("acct-1234")
	})
	mux.HandleFunc("/General/LoginPublisherAccountById", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "acct-1234", body["accountId"])
		json.NewEncoder(w).Encode("sess-5678")
	})
	mux.HandleFunc("/Publisher/ReadPublisherLatestGlucoseValues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-5678", r.URL.Query().Get("sessionId"))
		assert.Equal(t, "1", r.URL.Query().Get("maxCount"))
		fmt.Fprintf(w, `[{"WT":"/Date(%d)/","Value":112,"Trend":"Flat"}]`, readingTS.UnixMilli())
	})

	client := newShareClient(t, mux)
	reading, err := client.FetchCurrentReading(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, float64(112), reading.Value)
	assert.True(t, reading.Timestamp.Equal(readingTS))
	assert.Equal(t, "Flat", reading.Trend)
}

func TestFetchCurrentReading_NumericTrend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/General/AuthenticatePublisherAccount", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("acct-1234")
	})
	mux.HandleFunc("/General/LoginPublisherAccountById", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("sess-5678")
	})
	mux.HandleFunc("/Publisher/ReadPublisherLatestGlucoseValues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"WT":"/Date(1787226900000)/","Value":108,"Trend":4}]`)
	})

	client := newShareClient(t, mux)
	reading, err := client.FetchCurrentReading(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "4", reading.Trend)
}

func TestFetchCurrentReading_NoValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/General/AuthenticatePublisherAccount", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("acct-1234")
	})
	mux.HandleFunc("/General/LoginPublisherAccountById", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("sess-5678")
	})
	mux.HandleFunc("/Publisher/ReadPublisherLatestGlucoseValues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	client := newShareClient(t, mux)
	_, err := client.FetchCurrentReading(context.Background(), testAccount)
	assert.ErrorIs(t, err, domain.ErrNoReading)
}

func TestValidateCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/General/AuthenticatePublisherAccount", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("acct-1234")
	})

	client := newShareClient(t, mux)
	accountID, err := client.ValidateCredentials(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "acct-1234", accountID)
}

func TestValidateCredentials_NilAccountID(t *testing.T) {
	// Share signals a failed login with the nil GUID, not an HTTP error.
	mux := http.NewServeMux()
	mux.HandleFunc("/General/AuthenticatePublisherAccount", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(nilAccountID)
	})

	client := newShareClient(t, mux)
	_, err := client.ValidateCredentials(context.Background(), testAccount)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestValidateCredentials_UnauthorizedStatus(t *testing.T) {
	client := newShareClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.ValidateCredentials(context.Background(), testAccount)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestValidateCredentials_UnknownRegion(t *testing.T) {
	client := newShareClient(t, http.NewServeMux())

	account := testAccount
	account.Region = "eu"
	_, err := client.ValidateCredentials(context.Background(), account)
	assert.ErrorIs(t, err, domain.ErrRegionMismatch)
}

func TestParseWireDate(t *testing.T) {
	ts, err := parseWireDate("/Date(1787226900000-0700)/")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.UnixMilli(1787226900000)))
	assert.Equal(t, time.UTC, ts.Location())

	_, err = parseWireDate("yesterday")
	assert.Error(t, err)
}
