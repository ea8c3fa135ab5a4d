package export

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/source"
)

// Record is the transient field key → value mapping flowing through
// fetch, enrich, filter, project and format. Never persisted.
type Record = map[string]interface{}

// itemsKey carries an order's line items between fetch and the item
// summary enrichment. Projection never selects it.
const itemsKey = "_items"

type Pipeline struct {
	source    source.Client
	cache     *source.DetailCache
	catalog   catalog.Catalog
	batchSize int
}

func NewPipeline(client source.Client, cache *source.DetailCache, cat catalog.Catalog, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Pipeline{source: client, cache: cache, catalog: cat, batchSize: batchSize}
}

// FetchBase retrieves all pages for the dataset under the delegated
// remote filters and flattens source entities into records. Item-level
// datasets expand one parent into one record per line item.
func (p *Pipeline) FetchBase(ctx context.Context, dataset string, remote map[string]string) ([]Record, error) {
	switch dataset {
	case models.DatasetOrders, models.DatasetOrderItems:
		return p.fetchOrders(ctx, dataset, remote)
	case models.DatasetProducts:
		return p.fetchProducts(ctx, remote)
	default:
		return nil, fmt.Errorf("unknown dataset type %q", dataset)
	}
}

func (p *Pipeline) fetchOrders(ctx context.Context, dataset string, remote map[string]string) ([]Record, error) {
	var records []Record
	for page := 1; ; page++ {
		orders, err := p.source.FetchOrders(ctx, remote, page)
		if err != nil {
			return nil, fmt.Errorf("order fetch failed on page %d: %w", page, err)
		}
		for _, order := range orders {
			if dataset == models.DatasetOrderItems {
				records = append(records, flattenOrderItems(order)...)
			} else {
				records = append(records, flattenOrder(order))
			}
		}
		if len(orders) < p.source.PageSize() {
			return records, nil
		}
	}
}

func (p *Pipeline) fetchProducts(ctx context.Context, remote map[string]string) ([]Record, error) {
	var records []Record
	for page := 1; ; page++ {
		products, err := p.source.FetchProducts(ctx, remote, page)
		if err != nil {
			return nil, fmt.Errorf("product fetch failed on page %d: %w", page, err)
		}
		for _, product := range products {
			records = append(records, flattenProduct(product))
		}
		if len(products) < p.source.PageSize() {
			return records, nil
		}
	}
}

func flattenOrder(order source.Order) Record {
	return Record{
		"order_id":        order.OrderID,
		"email":           order.Email,
		"phone":           order.Phone,
		"order_status_id": order.StatusID,
		"date_add":        order.DateAdd,
		"date_confirmed":  order.DateConfirmed,
		"payment_method":  order.PaymentMethod,
		"currency":        order.Currency,
		"price_total":     order.PriceTotal,
		"delivery_price":  order.DeliveryPrice,
		"paid":            order.Paid,
		itemsKey:          order.Items,
	}
}

func flattenOrderItems(order source.Order) []Record {
	records := make([]Record, 0, len(order.Items))
	for _, item := range order.Items {
		records = append(records, Record{
			"order_id":        order.OrderID,
			"order_status_id": order.StatusID,
			"date_confirmed":  order.DateConfirmed,
			"currency":        order.Currency,
			"product_id":      item.ProductID,
			"name":            item.Name,
			"quantity":        item.Quantity,
			"price":           item.Price,
		})
	}
	return records
}

func flattenProduct(product source.Product) Record {
	return Record{
		"product_id":           product.ProductID,
		"name":                 product.Name,
		"sku":                  product.SKU,
		"ean":                  product.EAN,
		"quantity":             product.Quantity,
		"price":                product.Price,
		"purchase_price_netto": product.PurchasePrice,
		"category_id":          product.CategoryID,
	}
}

// Enrich runs only the secondary lookups at least one selected field
// depends on, and merges computed price and margin fields. Secondary
// fetch failures degrade to missing fields instead of aborting the run.
func (p *Pipeline) Enrich(ctx context.Context, dataset string, records []Record, fields []string, settings models.JobSettings) {
	if len(records) == 0 {
		return
	}

	if p.catalog.Needs(dataset, fields, catalog.NeedsDetail) {
		p.enrichDetails(ctx, records, fields, settings)
	}
	if p.catalog.Needs(dataset, fields, catalog.NeedsDocument) {
		p.enrichDocuments(ctx, records)
	}
	if p.catalog.Needs(dataset, fields, catalog.NeedsCurrency) {
		p.enrichCurrency(ctx, records)
	}
	if p.catalog.Needs(dataset, fields, catalog.NeedsSummary) {
		enrichItemSummary(records)
	}

	mergePriceVariants(dataset, records, fields, settings)

	// Product records carry their purchase price on the base fetch, so
	// margin needs no secondary lookup there.
	if dataset == models.DatasetProducts && containsField(fields, "margin_percent") {
		mergeProductMargin(records, settings)
	}
}

func mergeProductMargin(records []Record, settings models.JobSettings) {
	for _, record := range records {
		purchase, ok := asFloat(record["purchase_price_netto"])
		if !ok {
			continue
		}
		record["margin_percent"] = Margin(saleNetto(record, settings), purchase)
	}
}

func (p *Pipeline) enrichDetails(ctx context.Context, records []Record, fields []string, settings models.JobSettings) {
	ids := collectIDs(records, "product_id")
	if len(ids) == 0 {
		return
	}

	details := p.cache.GetMany(ctx, ids)
	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := details[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetched := make(map[int64]source.Product)
	for _, batch := range batchIDs(missing, p.batchSize) {
		chunk, err := p.source.ProductDetails(ctx, batch)
		if err != nil {
			logger.Log.WithError(err).WithField("batch_size", len(batch)).Warn("Product detail lookup failed, continuing with partial data")
			continue
		}
		for id, product := range chunk {
			details[id] = product
			fetched[id] = product
		}
	}
	p.cache.PutMany(ctx, fetched)

	wantMargin := containsField(fields, "margin_percent")
	for _, record := range records {
		id, ok := asInt64(record["product_id"])
		if !ok {
			continue
		}
		product, ok := details[id]
		if !ok {
			continue
		}
		record["sku"] = product.SKU
		record["ean"] = product.EAN
		record["purchase_price_netto"] = product.PurchasePrice
		if wantMargin {
			saleNet := saleNetto(record, settings)
			record["margin_percent"] = Margin(saleNet, product.PurchasePrice)
		}
	}
}

func (p *Pipeline) enrichDocuments(ctx context.Context, records []Record) {
	ids := collectIDs(records, "order_id")
	if len(ids) == 0 {
		return
	}
	documents := make(map[int64]string)
	for _, batch := range batchIDs(ids, p.batchSize) {
		chunk, err := p.source.RelatedDocuments(ctx, batch)
		if err != nil {
			logger.Log.WithError(err).Warn("Related document lookup failed, continuing without invoice numbers")
			continue
		}
		for id, number := range chunk {
			documents[id] = number
		}
	}
	for _, record := range records {
		if id, ok := asInt64(record["order_id"]); ok {
			if number, ok := documents[id]; ok {
				record["invoice_number"] = number
			}
		}
	}
}

func (p *Pipeline) enrichCurrency(ctx context.Context, records []Record) {
	seen := make(map[string]struct{})
	var currencies []string
	for _, record := range records {
		currency, _ := record["currency"].(string)
		if currency == "" {
			continue
		}
		if _, ok := seen[currency]; !ok {
			seen[currency] = struct{}{}
			currencies = append(currencies, currency)
		}
	}
	if len(currencies) == 0 {
		return
	}

	rates, err := p.source.ExchangeRates(ctx, currencies)
	if err != nil {
		logger.Log.WithError(err).Warn("Exchange rate lookup failed, continuing without converted totals")
		return
	}
	for _, record := range records {
		currency, _ := record["currency"].(string)
		rate, ok := rates[currency]
		if !ok || rate <= 0 {
			continue
		}
		if total, ok := asFloat(record["price_total"]); ok {
			record["price_total_eur"] = round2(total * rate)
		}
	}
}

func enrichItemSummary(records []Record) {
	for _, record := range records {
		items, ok := record[itemsKey].([]source.OrderItem)
		if !ok {
			continue
		}
		count := 0
		total := 0.0
		for _, item := range items {
			count += item.Quantity
			total += item.Price * float64(item.Quantity)
		}
		record["items_count"] = count
		record["items_total"] = round2(total)
	}
}

// mergePriceVariants derives tax-exclusive and tax-inclusive price
// columns from the job's tax rate and price convention.
func mergePriceVariants(dataset string, records []Record, fields []string, settings models.JobSettings) {
	base, nettoKey, bruttoKey := priceVariantKeys(dataset)
	if !containsField(fields, nettoKey) && !containsField(fields, bruttoKey) {
		return
	}
	rate := settings.DefaultTaxRate
	for _, record := range records {
		price, ok := asFloat(record[base])
		if !ok {
			continue
		}
		if strings.EqualFold(settings.PriceConvention, "netto") {
			record[nettoKey] = round2(price)
			record[bruttoKey] = ToBrutto(price, rate)
		} else {
			record[nettoKey] = ToNetto(price, rate)
			record[bruttoKey] = round2(price)
		}
	}
}

func priceVariantKeys(dataset string) (base, netto, brutto string) {
	if dataset == models.DatasetOrders {
		return "price_total", "price_total_netto", "price_total_brutto"
	}
	return "price", "price_netto", "price_brutto"
}

func saleNetto(record Record, settings models.JobSettings) float64 {
	price, _ := asFloat(record["price"])
	if strings.EqualFold(settings.PriceConvention, "netto") {
		return round2(price)
	}
	return ToNetto(price, settings.DefaultTaxRate)
}

// ToNetto converts a tax-inclusive price to its tax-exclusive variant.
// A missing or invalid rate passes the price through with rounding only.
func ToNetto(price, rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return round2(price)
	}
	return round2(price / (1 + rate/100))
}

// ToBrutto converts a tax-exclusive price to its tax-inclusive variant.
func ToBrutto(price, rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return round2(price)
	}
	return round2(price * (1 + rate/100))
}

// Margin is the percentage markup of the net sale price over the net
// purchase price.
func Margin(saleNetto, purchaseNetto float64) float64 {
	if purchaseNetto == 0 {
		return 0
	}
	return round2((saleNetto - purchaseNetto) / purchaseNetto * 100)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func collectIDs(records []Record, key string) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, record := range records {
		id, ok := asInt64(record[key])
		if !ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func batchIDs(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	var batches [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

func containsField(fields []string, key string) bool {
	for _, field := range fields {
		if field == key {
			return true
		}
	}
	return false
}

func asInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
