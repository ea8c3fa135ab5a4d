package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field value kinds. Date-kind fields carry numeric epochs in source
// payloads and are rendered as local datetime strings on output.
const (
	KindString  = "string"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindDate    = "date"
)

// Enrichment dependencies. A field marked with one of these is only
// populated when the matching secondary fetch runs.
const (
	NeedsDetail   = "detail"
	NeedsDocument = "document"
	NeedsCurrency = "currency"
	NeedsSummary  = "items_summary"
)

type Field struct {
	Label string `yaml:"label" json:"label"`
	Kind  string `yaml:"kind" json:"kind"`
	Needs string `yaml:"needs,omitempty" json:"needs,omitempty"`
}

// RemoteRule whitelists one (field, operator) pair the external source
// can evaluate natively, and names the query parameter it maps to.
type RemoteRule struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Param    string `yaml:"param" json:"param"`
}

type Dataset struct {
	Fields  map[string]Field  `yaml:"fields" json:"fields"`
	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Remote  []RemoteRule      `yaml:"remote,omitempty" json:"remote,omitempty"`
}

type Catalog struct {
	Datasets map[string]Dataset `yaml:"datasets" json:"datasets"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Default(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Datasets) == 0 {
		return Catalog{}, fmt.Errorf("field catalog empty")
	}
	return cat, nil
}

// Resolve maps a possibly legacy field key to its current key. Older job
// definitions keep referencing keys that have since been renamed.
func (c Catalog) Resolve(dataset, key string) string {
	ds, ok := c.Datasets[dataset]
	if !ok {
		return key
	}
	if current, ok := ds.Aliases[key]; ok {
		return current
	}
	for old, current := range ds.Aliases {
		if strings.EqualFold(old, key) {
			return current
		}
	}
	return key
}

// Lookup returns the field definition for a current (already resolved) key.
func (c Catalog) Lookup(dataset, key string) (Field, bool) {
	ds, ok := c.Datasets[dataset]
	if !ok {
		return Field{}, false
	}
	field, ok := ds.Fields[key]
	return field, ok
}

// Label returns the output column label for a key, or the key itself
// when the catalog does not know it.
func (c Catalog) Label(dataset, key string) string {
	if field, ok := c.Lookup(dataset, key); ok && field.Label != "" {
		return field.Label
	}
	return key
}

// RemoteRules returns the delegation whitelist for a dataset.
func (c Catalog) RemoteRules(dataset string) []RemoteRule {
	return c.Datasets[dataset].Remote
}

// Needs reports whether any of the given keys depends on the named
// enrichment kind. Drives enrichment gating in the pipeline.
func (c Catalog) Needs(dataset string, keys []string, enrichment string) bool {
	for _, key := range keys {
		if field, ok := c.Lookup(dataset, key); ok && field.Needs == enrichment {
			return true
		}
	}
	return false
}

func Default() Catalog {
	return Catalog{Datasets: map[string]Dataset{
		"orders": {
			Fields: map[string]Field{
				"order_id":           {Label: "ID zamówienia", Kind: KindNumber},
				"email":              {Label: "Email", Kind: KindString},
				"phone":              {Label: "Telefon", Kind: KindString},
				"order_status_id":    {Label: "Status", Kind: KindNumber},
				"date_add":           {Label: "Data dodania", Kind: KindDate},
				"date_confirmed":     {Label: "Data potwierdzenia", Kind: KindDate},
				"payment_method":     {Label: "Metoda płatności", Kind: KindString},
				"currency":           {Label: "Waluta", Kind: KindString},
				"price_total":        {Label: "Suma zamówienia", Kind: KindNumber},
				"price_total_netto":  {Label: "Suma netto", Kind: KindNumber},
				"price_total_brutto": {Label: "Suma brutto", Kind: KindNumber},
				"delivery_price":     {Label: "Koszt dostawy", Kind: KindNumber},
				"paid":               {Label: "Opłacone", Kind: KindBoolean},
				"invoice_number":     {Label: "Numer faktury", Kind: KindString, Needs: NeedsDocument},
				"price_total_eur":    {Label: "Suma (EUR)", Kind: KindNumber, Needs: NeedsCurrency},
				"items_count":        {Label: "Liczba pozycji", Kind: KindNumber, Needs: NeedsSummary},
				"items_total":        {Label: "Wartość pozycji", Kind: KindNumber, Needs: NeedsSummary},
			},
			Aliases: map[string]string{
				"client_email": "email",
				"status":       "order_status_id",
				"order_price":  "price_total",
				"order_date":   "date_add",
			},
			Remote: []RemoteRule{
				{Field: "order_status_id", Operator: "equals", Param: "status_id"},
				{Field: "date_confirmed", Operator: "greater_or_equal", Param: "date_from"},
				{Field: "date_confirmed", Operator: "less_or_equal", Param: "date_to"},
			},
		},
		"order_items": {
			Fields: map[string]Field{
				"order_id":             {Label: "ID zamówienia", Kind: KindNumber},
				"product_id":           {Label: "ID produktu", Kind: KindNumber},
				"name":                 {Label: "Nazwa", Kind: KindString},
				"quantity":             {Label: "Ilość", Kind: KindNumber},
				"price":                {Label: "Cena", Kind: KindNumber},
				"price_netto":          {Label: "Cena netto", Kind: KindNumber},
				"price_brutto":         {Label: "Cena brutto", Kind: KindNumber},
				"currency":             {Label: "Waluta", Kind: KindString},
				"sku":                  {Label: "SKU", Kind: KindString, Needs: NeedsDetail},
				"ean":                  {Label: "EAN", Kind: KindString, Needs: NeedsDetail},
				"purchase_price_netto": {Label: "Cena zakupu netto", Kind: KindNumber, Needs: NeedsDetail},
				"margin_percent":       {Label: "Marża %", Kind: KindNumber, Needs: NeedsDetail},
			},
			Aliases: map[string]string{
				"product_sku": "sku",
				"product_ean": "ean",
				"item_price":  "price",
				"item_name":   "name",
			},
			Remote: []RemoteRule{
				{Field: "order_status_id", Operator: "equals", Param: "status_id"},
				{Field: "date_confirmed", Operator: "greater_or_equal", Param: "date_from"},
				{Field: "date_confirmed", Operator: "less_or_equal", Param: "date_to"},
			},
		},
		"products": {
			Fields: map[string]Field{
				"product_id":           {Label: "ID produktu", Kind: KindNumber},
				"name":                 {Label: "Nazwa", Kind: KindString},
				"sku":                  {Label: "SKU", Kind: KindString},
				"ean":                  {Label: "EAN", Kind: KindString},
				"quantity":             {Label: "Stan magazynowy", Kind: KindNumber},
				"price":                {Label: "Cena", Kind: KindNumber},
				"price_netto":          {Label: "Cena netto", Kind: KindNumber},
				"price_brutto":         {Label: "Cena brutto", Kind: KindNumber},
				"purchase_price_netto": {Label: "Cena zakupu netto", Kind: KindNumber},
				"margin_percent":       {Label: "Marża %", Kind: KindNumber},
			},
			Aliases: map[string]string{
				"stock": "quantity",
			},
			Remote: []RemoteRule{
				{Field: "category_id", Operator: "equals", Param: "category_id"},
			},
		},
	}}
}
