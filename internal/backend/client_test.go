package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectkit/amazon-collector/internal/models"
)

const testBaseURL = "https://project.supabase.test"

type fakeTokens struct {
	token       string
	userID      string
	refreshed   int
	refreshErr  error
	afterToken  string
	invalidated int
}

func (f *fakeTokens) AccessToken() string { return f.token }
func (f *fakeTokens) UserID() string      { return f.userID }

func (f *fakeTokens) Refresh(ctx context.Context) error {
	f.refreshed++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	if f.afterToken != "" {
		f.token = f.afterToken
	}
	return nil
}

func (f *fakeTokens) Invalidate(ctx context.Context) {
	f.invalidated++
	f.token = ""
}

func newTestClient(tokens TokenProvider) (*Client, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return NewClient(testBaseURL, "anon-key", tokens, httpClient, logger), transport
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRequestRefreshesOnceOn401(t *testing.T) {
	tokens := &fakeTokens{token: "stale", userID: "user-1", afterToken: "fresh"}
	client, transport := newTestClient(tokens)

	calls := 0
	transport.RegisterResponder("GET", testBaseURL+"/rest/v1/listings",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if req.Header.Get("Authorization") == "Bearer fresh" {
				return httpmock.NewStringResponse(200, `[{"id":"abc"}]`), nil
			}
			return httpmock.NewStringResponse(401, `{"message":"JWT expired"}`), nil
		})

	result, err := client.Request(context.Background(), http.MethodGet, "/rest/v1/listings", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.refreshed)

	rows, ok := result.([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestRequestSurfacesOriginalWhenRefreshFails(t *testing.T) {
	tokens := &fakeTokens{token: "stale", userID: "user-1", refreshErr: errors.New("refresh token revoked")}
	client, transport := newTestClient(tokens)

	calls := 0
	transport.RegisterResponder("GET", testBaseURL+"/rest/v1/listings",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(401, `{"message":"JWT expired"}`), nil
		})

	_, err := client.Request(context.Background(), http.MethodGet, "/rest/v1/listings", nil)
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, 1, calls, "failed refresh must not retry the request")
	assert.Equal(t, 1, tokens.refreshed)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestRequestClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		check      func(t *testing.T, err error)
		wantResult bool
	}{
		{
			name:   "plain failure becomes request error",
			status: 400,
			body:   `{"message":"bad filter"}`,
			check: func(t *testing.T, err error) {
				var reqErr RequestError
				require.ErrorAs(t, err, &reqErr)
				assert.Equal(t, 400, reqErr.StatusCode)
				assert.Equal(t, "bad filter", reqErr.Message)
			},
		},
		{
			name:   "expiry marker in non-401 body",
			status: 403,
			body:   `{"msg":"Invalid JWT: signature is invalid"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsSessionExpired(err))
			},
		},
		{
			name:   "malformed success body",
			status: 200,
			body:   `{"truncated":`,
			check: func(t *testing.T, err error) {
				var fmtErr ResponseFormatError
				assert.ErrorAs(t, err, &fmtErr)
			},
		},
		{
			name:       "empty success body",
			status:     204,
			body:       "",
			wantResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &fakeTokens{token: "tok", userID: "user-1"}
			client, transport := newTestClient(tokens)
			transport.RegisterResponder("GET", testBaseURL+"/rest/v1/listings",
				httpmock.NewStringResponder(tt.status, tt.body))

			result, err := client.Request(context.Background(), http.MethodGet, "/rest/v1/listings", nil)
			if tt.wantResult {
				require.NoError(t, err)
				assert.Nil(t, result)
				return
			}
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSaveProductSkipsDuplicate(t *testing.T) {
	tokens := &fakeTokens{token: "tok", userID: "user-1"}
	client, transport := newTestClient(tokens)

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`asin=eq\.B00TESTASIN`),
		httpmock.NewStringResponder(200, `[{"id":"existing"}]`))

	posted := false
	transport.RegisterResponder("POST", testBaseURL+"/rest/v1/listings",
		func(req *http.Request) (*http.Response, error) {
			posted = true
			return httpmock.NewStringResponse(201, `[]`), nil
		})

	record := models.NewProductRecord("B00TESTASIN", "https://www.amazon.com/dp/B00TESTASIN", "US")
	result, err := client.SaveProduct(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, posted, "duplicate must not be inserted")
}

func TestSaveProductInsertsWhenCheckFails(t *testing.T) {
	tokens := &fakeTokens{token: "tok", userID: "user-1"}
	client, transport := newTestClient(tokens)

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`asin=eq\.`),
		httpmock.NewStringResponder(500, `{"message":"internal error"}`))

	posted := false
	transport.RegisterResponder("POST", testBaseURL+"/rest/v1/listings",
		func(req *http.Request) (*http.Response, error) {
			posted = true
			return httpmock.NewStringResponse(201, `[{"id":"new"}]`), nil
		})

	record := models.NewProductRecord("B00TESTASIN", "https://www.amazon.com/dp/B00TESTASIN", "US")
	result, err := client.SaveProduct(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, posted, "flaky duplicate check must not lose the record")
}

func TestSaveProductHaltsOnExpiredCheck(t *testing.T) {
	tokens := &fakeTokens{token: "tok", userID: "user-1", refreshErr: errors.New("revoked")}
	client, transport := newTestClient(tokens)

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`asin=eq\.`),
		httpmock.NewStringResponder(401, `{"message":"JWT expired"}`))

	posted := false
	transport.RegisterResponder("POST", testBaseURL+"/rest/v1/listings",
		func(req *http.Request) (*http.Response, error) {
			posted = true
			return httpmock.NewStringResponse(201, `[]`), nil
		})

	record := models.NewProductRecord("B00TESTASIN", "https://www.amazon.com/dp/B00TESTASIN", "US")
	_, err := client.SaveProduct(context.Background(), record)
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.False(t, posted)
}

func TestListProductsExactCount(t *testing.T) {
	tokens := &fakeTokens{token: "tok", userID: "user-1"}
	client, transport := newTestClient(tokens)

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`order=created_at\.desc`),
		httpmock.NewStringResponder(200, `[{"asin":"B000000001"},{"asin":"B000000002"}]`))

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`select=count`),
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Prefer") != "count=exact" {
				return httpmock.NewStringResponse(400, `{"message":"missing prefer header"}`), nil
			}
			resp := httpmock.NewStringResponse(200, `[]`)
			resp.Header.Set("Content-Range", "0-1/123")
			return resp, nil
		})

	page, err := client.ListProducts(context.Background(), 1, 50, "")
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 123, page.Count)
	assert.Equal(t, 3, page.TotalPages)
}

func TestListProductsNotLoggedIn(t *testing.T) {
	client, _ := newTestClient(&fakeTokens{})
	_, err := client.ListProducts(context.Background(), 1, 50, "")
	assert.True(t, IsAuthError(err))
}

func TestStatsAggregation(t *testing.T) {
	tokens := &fakeTokens{token: "tok", userID: "user-1"}
	client, transport := newTestClient(tokens)

	today := time.Now().UTC().Format(time.RFC3339)
	lastWeek := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339)
	body := fmt.Sprintf(`[
		{"created_at":%q,"marketplace":"US"},
		{"created_at":%q,"marketplace":"US"},
		{"created_at":%q,"marketplace":"JP"}
	]`, today, lastWeek, lastWeek)

	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`select=created_at,marketplace`),
		httpmock.NewStringResponder(200, body))

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Today)
	assert.Equal(t, map[string]int{"US": 2, "JP": 1}, stats.ByMarketplace)
}
