// Package orderfile parses multi-worksheet Excel order files. Each worksheet
// is one category; headers tolerate the naming variations customers actually
// use (Product/Item/Description, Opening Order/Qty/Quantity...).
package orderfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// Item is one row of an order file.
type Item struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	ProductName string  `json:"product_name"`
	Unit        string  `json:"unit"`
	Price       float64 `json:"price,omitempty"`
	Quantity    float64 `json:"quantity"`
	RowNumber   int     `json:"row_number"`
}

// Sheet is the parsed content of one worksheet.
type Sheet struct {
	Category   string  `json:"category"`
	Items      []Item  `json:"items"`
	TotalValue float64 `json:"total_value,omitempty"`
}

// Result is the outcome of parsing one order file.
type Result struct {
	Filename     string   `json:"filename,omitempty"`
	CustomerName string   `json:"customer_name,omitempty"`
	Sheets       []Sheet  `json:"sheets"`
	TotalItems   int      `json:"total_items"`
	TotalValue   float64  `json:"total_value,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// columnNames maps each logical column to the header spellings seen in
// customer files.
var columnNames = map[string][]string{
	"subcategory": {"subcategory", "sub-category", "sub category", "type", "subcat"},
	"product":     {"product", "product name", "item", "item name", "description", "name"},
	"unit":        {"unit", "uom", "unit of measure", "measure", "units"},
	"price":       {"price", "unit price", "rate", "cost"},
	"quantity":    {"opening order", "order", "qty", "quantity", "order qty", "order quantity", "amount"},
}

// metadata sheets are skipped entirely.
var skipSheets = map[string]bool{
	"metadata": true,
	"config":   true,
	"settings": true,
	"info":     true,
}

// Parse reads an order file from disk.
func Parse(path, customerName string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "orderfile: open file")
	}
	return parseWorkbook(f, path, customerName)
}

func parseWorkbook(f *xlsx.File, filename, customerName string) (*Result, error) {
	result := &Result{Filename: filename, CustomerName: customerName}

	for _, sheet := range f.Sheets {
		name := strings.TrimSpace(sheet.Name)
		if skipSheets[strings.ToLower(name)] {
			continue
		}

		parsed, warns := parseSheet(sheet, name)
		result.Warnings = append(result.Warnings, warns...)
		if len(parsed.Items) == 0 {
			continue
		}
		result.Sheets = append(result.Sheets, parsed)
		result.TotalItems += len(parsed.Items)
		result.TotalValue += parsed.TotalValue
	}

	if len(result.Sheets) == 0 {
		return nil, eris.New("orderfile: no valid order items found; worksheets need Product and Opening Order columns")
	}
	return result, nil
}

func parseSheet(sheet *xlsx.Sheet, category string) (Sheet, []string) {
	out := Sheet{Category: category}
	var warnings []string

	if len(sheet.Rows) < 2 {
		return out, nil
	}

	headers := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		headers[i] = strings.ToLower(strings.TrimSpace(cell.String()))
	}

	productIdx := findColumn(headers, "product")
	if productIdx < 0 {
		// Last resort: any header mentioning "product".
		for i, h := range headers {
			if strings.Contains(h, "product") {
				productIdx = i
				break
			}
		}
	}
	if productIdx < 0 {
		return out, nil
	}

	subcatIdx := findColumn(headers, "subcategory")
	unitIdx := findColumn(headers, "unit")
	priceIdx := findColumn(headers, "price")
	qtyIdx := findColumn(headers, "quantity")

	for rowNum, row := range sheet.Rows[1:] {
		product := strings.TrimSpace(cellAt(row, productIdx))
		if product == "" {
			continue
		}

		qty, ok := parseFloat(cellAt(row, qtyIdx))
		if !ok || qty <= 0 {
			// No quantity means the row was not ordered this time.
			continue
		}

		item := Item{
			Category:    category,
			Subcategory: strings.TrimSpace(cellAt(row, subcatIdx)),
			ProductName: product,
			Unit:        "units",
			Quantity:    qty,
			RowNumber:   rowNum + 2,
		}
		if unit := strings.TrimSpace(cellAt(row, unitIdx)); unit != "" {
			item.Unit = unit
		}
		if price, ok := parseFloat(cellAt(row, priceIdx)); ok {
			item.Price = price
			out.TotalValue += price * qty
		} else if priceIdx >= 0 && strings.TrimSpace(cellAt(row, priceIdx)) != "" {
			warnings = append(warnings, fmt.Sprintf("%s row %d: unreadable price %q", category, rowNum+2, cellAt(row, priceIdx)))
		}

		out.Items = append(out.Items, item)
	}
	return out, warnings
}

func findColumn(headers []string, kind string) int {
	for i, h := range headers {
		for _, name := range columnNames[kind] {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func cellAt(row *xlsx.Row, idx int) string {
	if idx < 0 || idx >= len(row.Cells) {
		return ""
	}
	return row.Cells[idx].String()
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToExtractedOrder converts a parsed order file into the structured order
// the rest of the pipeline consumes. Spreadsheet rows are explicit, so every
// item carries HIGH confidence.
func (r *Result) ToExtractedOrder() *model.ExtractedOrder {
	items := make([]model.ExtractedItem, 0, r.TotalItems)
	for _, sheet := range r.Sheets {
		for _, item := range sheet.Items {
			items = append(items, model.ExtractedItem{
				ProductName:  item.ProductName,
				Quantity:     item.Quantity,
				Unit:         item.Unit,
				Confidence:   model.ConfidenceHigh,
				OriginalText: fmt.Sprintf("%s row %d", sheet.Category, item.RowNumber),
			})
		}
	}
	return &model.ExtractedOrder{
		CustomerName:      r.CustomerName,
		Items:             items,
		OverallConfidence: model.ConfidenceHigh,
		DetectedLanguage:  model.LanguageEnglish,
		RawMessage:        r.Text(),
	}
}

// Text renders the parsed file in the plain-text shape used for logging and
// LLM processing.
func (r *Result) Text() string {
	var b strings.Builder
	if r.CustomerName != "" {
		fmt.Fprintf(&b, "Order from: %s\n", r.CustomerName)
	}
	if r.Filename != "" {
		fmt.Fprintf(&b, "File: %s\n", r.Filename)
	}
	b.WriteString("\n")

	for _, sheet := range r.Sheets {
		fmt.Fprintf(&b, "=== %s ===\n", sheet.Category)
		for _, item := range sheet.Items {
			if item.Subcategory != "" {
				fmt.Fprintf(&b, "- [%s] %s: %v %s", item.Subcategory, item.ProductName, item.Quantity, item.Unit)
			} else {
				fmt.Fprintf(&b, "- %s: %v %s", item.ProductName, item.Quantity, item.Unit)
			}
			if item.Price > 0 {
				fmt.Fprintf(&b, " @ %v", item.Price)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if r.TotalValue > 0 {
		fmt.Fprintf(&b, "Total estimated value: %.2f\n", r.TotalValue)
	}
	return b.String()
}
