package orderfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/kijani-supplies/order-desk/internal/model"
)

func createOrderXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "order.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParse_SingleSheet(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Dry Goods": {
			{"Product", "Unit", "Price", "Opening Order"},
			{"Basmati Rice", "kg", "150", "50"},
			{"White Sugar", "kg", "120", "25"},
		},
	})

	result, err := Parse(path, "Mara Safari Lodge")
	require.NoError(t, err)

	require.Len(t, result.Sheets, 1)
	sheet := result.Sheets[0]
	assert.Equal(t, "Dry Goods", sheet.Category)
	require.Len(t, sheet.Items, 2)

	rice := sheet.Items[0]
	assert.Equal(t, "Basmati Rice", rice.ProductName)
	assert.InDelta(t, 50, rice.Quantity, 0.001)
	assert.Equal(t, "kg", rice.Unit)
	assert.InDelta(t, 150, rice.Price, 0.001)
	assert.Equal(t, 2, rice.RowNumber)

	assert.Equal(t, 2, result.TotalItems)
	assert.InDelta(t, 150*50+120*25, result.TotalValue, 0.001)
}

func TestParse_HeaderVariations(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Beverages": {
			{"Item Name", "UOM", "Qty"},
			{"Mango Juice", "bottles", "12"},
		},
	})

	result, err := Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Sheets, 1)
	assert.Equal(t, "Mango Juice", result.Sheets[0].Items[0].ProductName)
	assert.Equal(t, "bottles", result.Sheets[0].Items[0].Unit)
}

func TestParse_SkipsRowsWithoutQuantity(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Dairy": {
			{"Product", "Unit", "Opening Order"},
			{"Milk", "L", "20"},
			{"Yogurt", "L", ""},
			{"Butter", "kg", "0"},
			{"", "kg", "5"},
		},
	})

	result, err := Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Sheets[0].Items, 1)
	assert.Equal(t, "Milk", result.Sheets[0].Items[0].ProductName)
}

func TestParse_SkipsMetadataSheets(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Metadata": {
			{"Product", "Opening Order"},
			{"should not appear", "5"},
		},
		"Produce": {
			{"Product", "Opening Order"},
			{"Tomatoes", "10"},
		},
	})

	result, err := Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Sheets, 1)
	assert.Equal(t, "Produce", result.Sheets[0].Category)
	// No unit column, default applies.
	assert.Equal(t, "units", result.Sheets[0].Items[0].Unit)
}

func TestParse_NoUsableSheetsFails(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Notes": {
			{"Remarks", "Author"},
			{"call the lodge", "ops"},
		},
	})

	_, err := Parse(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid order items")
}

func TestParse_Subcategory(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Cleaning": {
			{"Sub-Category", "Product", "Qty"},
			{"Laundry", "Detergent Powder", "6"},
		},
	})

	result, err := Parse(path, "")
	require.NoError(t, err)
	assert.Equal(t, "Laundry", result.Sheets[0].Items[0].Subcategory)
}

func TestToExtractedOrder(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Dry Goods": {
			{"Product", "Unit", "Opening Order"},
			{"Basmati Rice", "kg", "50"},
		},
	})

	result, err := Parse(path, "Kilima Hotel")
	require.NoError(t, err)

	order := result.ToExtractedOrder()
	require.NoError(t, order.Validate())
	assert.Equal(t, "Kilima Hotel", order.CustomerName)
	assert.Equal(t, model.ConfidenceHigh, order.OverallConfidence)
	require.Len(t, order.Items, 1)
	assert.Equal(t, model.ConfidenceHigh, order.Items[0].Confidence)
	assert.Contains(t, order.Items[0].OriginalText, "Dry Goods row 2")
}

func TestText(t *testing.T) {
	path := createOrderXLSX(t, map[string][][]string{
		"Dry Goods": {
			{"Product", "Unit", "Price", "Opening Order"},
			{"Basmati Rice", "kg", "150", "50"},
		},
	})

	result, err := Parse(path, "Kilima Hotel")
	require.NoError(t, err)

	text := result.Text()
	assert.Contains(t, text, "Order from: Kilima Hotel")
	assert.Contains(t, text, "=== Dry Goods ===")
	assert.Contains(t, text, "- Basmati Rice: 50 kg @ 150")
	assert.Contains(t, text, "Total estimated value: 7500.00")
}
