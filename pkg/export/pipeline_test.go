package export

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/source"
)

func init() {
	logger.Init()
}

type stubSource struct {
	pageSize      int
	orders        []source.Order
	productList   []source.Product
	products      map[int64]source.Product
	documents     map[int64]string
	rates         map[string]float64
	fetchCalls    int
	detailCalls   int
	detailErr     error
	detailBatches [][]int64
	lastParams    map[string]string
}

func (s *stubSource) PageSize() int {
	if s.pageSize <= 0 {
		return 100
	}
	return s.pageSize
}

func (s *stubSource) FetchOrders(ctx context.Context, params map[string]string, page int) ([]source.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.fetchCalls++
	s.lastParams = params
	size := s.PageSize()
	start := (page - 1) * size
	if start >= len(s.orders) {
		return nil, nil
	}
	end := start + size
	if end > len(s.orders) {
		end = len(s.orders)
	}
	return s.orders[start:end], nil
}

func (s *stubSource) FetchProducts(ctx context.Context, params map[string]string, page int) ([]source.Product, error) {
	s.fetchCalls++
	s.lastParams = params
	size := s.PageSize()
	start := (page - 1) * size
	if start >= len(s.productList) {
		return nil, nil
	}
	end := start + size
	if end > len(s.productList) {
		end = len(s.productList)
	}
	return s.productList[start:end], nil
}

func (s *stubSource) ProductDetails(ctx context.Context, ids []int64) (map[int64]source.Product, error) {
	s.detailCalls++
	s.detailBatches = append(s.detailBatches, ids)
	if s.detailErr != nil {
		return nil, s.detailErr
	}
	result := make(map[int64]source.Product)
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *stubSource) RelatedDocuments(ctx context.Context, orderIDs []int64) (map[int64]string, error) {
	return s.documents, nil
}

func (s *stubSource) ExchangeRates(ctx context.Context, currencies []string) (map[string]float64, error) {
	return s.rates, nil
}

func testOrder(id int64, status int, email string, items ...source.OrderItem) source.Order {
	return source.Order{
		OrderID:       id,
		Email:         email,
		StatusID:      status,
		DateConfirmed: 1700000000,
		Currency:      "PLN",
		PriceTotal:    100,
		Items:         items,
	}
}

func TestFetchBasePaginates(t *testing.T) {
	src := &stubSource{pageSize: 2, orders: []source.Order{
		testOrder(1, 5, "a@x.pl"), testOrder(2, 5, "b@x.pl"),
		testOrder(3, 5, "c@x.pl"), testOrder(4, 5, "d@x.pl"),
		testOrder(5, 5, "e@x.pl"),
	}}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, err := p.FetchBase(context.Background(), models.DatasetOrders, map[string]string{"status_id": "5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if src.fetchCalls != 3 {
		t.Fatalf("expected 3 page fetches, got %d", src.fetchCalls)
	}
	if src.lastParams["status_id"] != "5" {
		t.Fatalf("remote filters must reach the source, got %v", src.lastParams)
	}
}

func TestFetchBaseExpandsOrderItems(t *testing.T) {
	src := &stubSource{orders: []source.Order{
		testOrder(1, 5, "a@x.pl",
			source.OrderItem{ProductID: 11, Name: "Mug", Quantity: 2, Price: 20},
			source.OrderItem{ProductID: 12, Name: "Plate", Quantity: 1, Price: 35},
		),
		testOrder(2, 5, "b@x.pl",
			source.OrderItem{ProductID: 11, Name: "Mug", Quantity: 1, Price: 20},
		),
	}}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, err := p.FetchBase(context.Background(), models.DatasetOrderItems, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one record per line item, got %d", len(records))
	}
	if records[0]["order_id"] != int64(1) || records[0]["product_id"] != int64(11) {
		t.Fatalf("parent fields must be merged into item records: %v", records[0])
	}
}

func TestEnrichDetailBatching(t *testing.T) {
	products := make(map[int64]source.Product)
	var items []source.OrderItem
	for i := int64(1); i <= 5; i++ {
		products[i] = source.Product{ProductID: i, SKU: "SKU", PurchasePrice: 10}
		items = append(items, source.OrderItem{ProductID: i, Quantity: 1, Price: 20})
	}
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl", items...)}, products: products}
	p := NewPipeline(src, nil, catalog.Default(), 2)

	records, err := p.FetchBase(context.Background(), models.DatasetOrderItems, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Enrich(context.Background(), models.DatasetOrderItems, records, []string{"sku", "margin_percent"}, models.JobSettings{DefaultTaxRate: 23, PriceConvention: "netto"})

	if src.detailCalls != 3 {
		t.Fatalf("expected 5 ids in batches of 2 to need 3 calls, got %d", src.detailCalls)
	}
	for _, batch := range src.detailBatches {
		if len(batch) > 2 {
			t.Fatalf("batch exceeds ceiling: %v", batch)
		}
	}
	if records[0]["sku"] != "SKU" {
		t.Fatalf("detail fields must be merged, got %v", records[0])
	}
	if records[0]["margin_percent"] != 100.0 {
		t.Fatalf("expected margin 100%%, got %v", records[0]["margin_percent"])
	}
}

func TestEnrichGatingSkipsUnneededLookups(t *testing.T) {
	src := &stubSource{orders: []source.Order{
		testOrder(1, 5, "a@x.pl", source.OrderItem{ProductID: 11, Quantity: 1, Price: 20}),
	}}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, _ := p.FetchBase(context.Background(), models.DatasetOrderItems, nil)
	p.Enrich(context.Background(), models.DatasetOrderItems, records, []string{"name", "quantity"}, models.JobSettings{})

	if src.detailCalls != 0 {
		t.Fatalf("no selected field needs detail, expected 0 lookups, got %d", src.detailCalls)
	}
}

func TestEnrichDetailFailureDegrades(t *testing.T) {
	src := &stubSource{
		orders:    []source.Order{testOrder(1, 5, "a@x.pl", source.OrderItem{ProductID: 11, Quantity: 1, Price: 20})},
		detailErr: errors.New("source unavailable"),
	}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, _ := p.FetchBase(context.Background(), models.DatasetOrderItems, nil)
	p.Enrich(context.Background(), models.DatasetOrderItems, records, []string{"sku"}, models.JobSettings{})

	if _, ok := records[0]["sku"]; ok {
		t.Fatal("failed detail lookup must leave the field missing, not abort")
	}
}

func TestEnrichItemSummary(t *testing.T) {
	src := &stubSource{orders: []source.Order{
		testOrder(1, 5, "a@x.pl",
			source.OrderItem{ProductID: 11, Quantity: 2, Price: 20},
			source.OrderItem{ProductID: 12, Quantity: 1, Price: 35.55},
		),
	}}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, _ := p.FetchBase(context.Background(), models.DatasetOrders, nil)
	p.Enrich(context.Background(), models.DatasetOrders, records, []string{"items_count", "items_total"}, models.JobSettings{})

	if records[0]["items_count"] != 3 {
		t.Fatalf("expected items_count 3, got %v", records[0]["items_count"])
	}
	if records[0]["items_total"] != 75.55 {
		t.Fatalf("expected items_total 75.55, got %v", records[0]["items_total"])
	}
}

func TestEnrichProductMargin(t *testing.T) {
	src := &stubSource{productList: []source.Product{
		{ProductID: 1, Name: "Mug", Price: 150, PurchasePrice: 100},
		{ProductID: 2, Name: "Plate", Price: 90},
	}}
	p := NewPipeline(src, nil, catalog.Default(), 1000)

	records, err := p.FetchBase(context.Background(), models.DatasetProducts, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Enrich(context.Background(), models.DatasetProducts, records, []string{"name", "margin_percent"}, models.JobSettings{DefaultTaxRate: 23, PriceConvention: "netto"})

	if records[0]["margin_percent"] != 50.0 {
		t.Fatalf("expected margin 50%% from the base record, got %v", records[0]["margin_percent"])
	}
	if records[1]["margin_percent"] != 0.0 {
		t.Fatalf("zero purchase price must not divide, got %v", records[1]["margin_percent"])
	}
	if src.detailCalls != 0 {
		t.Fatalf("product margin must not trigger detail lookups, got %d", src.detailCalls)
	}
}

func TestPriceVariants(t *testing.T) {
	if got := ToNetto(123, 23); got != 100.0 {
		t.Fatalf("expected netto 100, got %v", got)
	}
	if got := ToBrutto(100, 23); got != 123.0 {
		t.Fatalf("expected brutto 123, got %v", got)
	}
	// Missing or invalid rate passes through with rounding only.
	if got := ToNetto(99.999, 0); got != 100.0 {
		t.Fatalf("expected passthrough rounding, got %v", got)
	}
	if got := ToBrutto(99.999, -5); got != 100.0 {
		t.Fatalf("expected passthrough rounding, got %v", got)
	}
}

func TestPriceRoundTrip(t *testing.T) {
	prices := []float64{0.01, 1, 9.99, 123.45, 999.99, 10000}
	rates := []float64{0, 5, 8, 23, 50, 100}
	for _, price := range prices {
		for _, rate := range rates {
			back := ToBrutto(ToNetto(price, rate), rate)
			// Both sides are 2-decimal amounts, so compare the drift as
			// a 2-decimal amount too; the raw float difference carries
			// binary noise (1.01 - 1.0 is slightly above 0.01).
			if round2(math.Abs(back-price)) > 0.01 {
				t.Fatalf("round trip drifted: price=%v rate=%v got %v", price, rate, back)
			}
		}
	}
}

func TestMargin(t *testing.T) {
	if got := Margin(150, 100); got != 50.0 {
		t.Fatalf("expected margin 50, got %v", got)
	}
	if got := Margin(150, 0); got != 0.0 {
		t.Fatalf("zero purchase price must not divide, got %v", got)
	}
}
