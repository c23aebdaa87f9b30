package bridgesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// splynxClient walks the Splynx admin customers API. Requests are paced by
// a shared ticker so a full page-walk stays under the upstream rate limit.
type splynxClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newSplynxClient() (*splynxClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("SPLYNX_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("SPLYNX_API_BASE_URL is not set")
	}
	apiKey := strings.TrimSpace(os.Getenv("SPLYNX_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("SPLYNX_API_KEY is not set")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("SPLYNX_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "Authorization"
	}

	return &splynxClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(rateLimitInterval("SPLYNX_RATE_LIMIT_PER_MIN")),
	}, nil
}

type splynxCustomerPayload struct {
	ID          json.Number `json:"id"`
	Login       string      `json:"login"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	Status      string      `json:"status"`
	BillingType string      `json:"billing_type"`
	Category    string      `json:"category"`
	Street1     string      `json:"street_1"`
	City        string      `json:"city"`
	ZipCode     string      `json:"zip_code"`
	Balance     json.Number `json:"account_balance"`
}

func (c *splynxClient) listCustomers(ctx context.Context, limit int, offset int) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("main_attributes[limit]", strconv.Itoa(limit))
	params.Set("main_attributes[offset]", strconv.Itoa(offset))
	return c.getList(ctx, "/api/2.0/admin/customers/customer", params)
}

func (c *splynxClient) getList(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("splynx api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed []json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// uispClient walks the UISP CRM clients API.
type uispClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter <-chan time.Time
}

func newUISPClient() (*uispClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("UISP_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("UISP_API_BASE_URL is not set")
	}
	token := strings.TrimSpace(os.Getenv("UISP_API_TOKEN"))
	if token == "" {
		return nil, errors.New("UISP_API_TOKEN is not set")
	}

	return &uispClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(rateLimitInterval("UISP_RATE_LIMIT_PER_MIN")),
	}, nil
}

type uispClientPayload struct {
	ID          json.Number `json:"id"`
	UserIdent   string      `json:"userIdent"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	CompanyName string      `json:"companyName"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
}

func (p uispClientPayload) displayName() string {
	if name := strings.TrimSpace(p.CompanyName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

func (c *uispClient) listClients(ctx context.Context, limit int, offset int) ([]json.RawMessage, error) {
	<-c.limiter
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	endpoint := c.baseURL + "/api/v1.0/clients?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Auth-App-Key", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("uisp api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed []json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func rateLimitInterval(envKey string) time.Duration {
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	return time.Minute / time.Duration(rateLimitPerMin)
}
