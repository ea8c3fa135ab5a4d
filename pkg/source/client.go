package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rowbridge-io/platform/pkg/common/httpclient"
)

// Client is the read contract of the external data source. Pagination,
// auth and rate limiting stay behind this interface.
type Client interface {
	FetchOrders(ctx context.Context, params map[string]string, page int) ([]Order, error)
	FetchProducts(ctx context.Context, params map[string]string, page int) ([]Product, error)
	ProductDetails(ctx context.Context, ids []int64) (map[int64]Product, error)
	RelatedDocuments(ctx context.Context, orderIDs []int64) (map[int64]string, error)
	ExchangeRates(ctx context.Context, currencies []string) (map[string]float64, error)
	PageSize() int
}

type HTTPClient struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
}

func NewHTTPClient(baseURL, token string, pageSize int) *HTTPClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		pageSize: pageSize,
		http:     httpclient.New(30 * time.Second),
	}
}

func (c *HTTPClient) PageSize() int {
	return c.pageSize
}

func (c *HTTPClient) FetchOrders(ctx context.Context, params map[string]string, page int) ([]Order, error) {
	var payload struct {
		Orders []Order `json:"orders"`
	}
	if err := c.get(ctx, "/orders", params, page, &payload); err != nil {
		return nil, err
	}
	return payload.Orders, nil
}

func (c *HTTPClient) FetchProducts(ctx context.Context, params map[string]string, page int) ([]Product, error) {
	var payload struct {
		Products []Product `json:"products"`
	}
	if err := c.get(ctx, "/products", params, page, &payload); err != nil {
		return nil, err
	}
	return payload.Products, nil
}

func (c *HTTPClient) ProductDetails(ctx context.Context, ids []int64) (map[int64]Product, error) {
	params := map[string]string{"ids": joinIDs(ids)}
	var payload struct {
		Products []Product `json:"products"`
	}
	if err := c.get(ctx, "/products/details", params, 0, &payload); err != nil {
		return nil, err
	}
	details := make(map[int64]Product, len(payload.Products))
	for _, product := range payload.Products {
		details[product.ProductID] = product
	}
	return details, nil
}

func (c *HTTPClient) RelatedDocuments(ctx context.Context, orderIDs []int64) (map[int64]string, error) {
	params := map[string]string{"order_ids": joinIDs(orderIDs)}
	var payload struct {
		Invoices []struct {
			OrderID int64  `json:"order_id"`
			Number  string `json:"number"`
		} `json:"invoices"`
	}
	if err := c.get(ctx, "/invoices", params, 0, &payload); err != nil {
		return nil, err
	}
	documents := make(map[int64]string, len(payload.Invoices))
	for _, invoice := range payload.Invoices {
		documents[invoice.OrderID] = invoice.Number
	}
	return documents, nil
}

func (c *HTTPClient) ExchangeRates(ctx context.Context, currencies []string) (map[string]float64, error) {
	params := map[string]string{"currencies": strings.Join(currencies, ",")}
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := c.get(ctx, "/currency/rates", params, 0, &payload); err != nil {
		return nil, err
	}
	return payload.Rates, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params map[string]string, page int, out interface{}) error {
	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(c.pageSize))
	}

	endpoint := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-API-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("source request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("source response decode failed: %w", err)
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
