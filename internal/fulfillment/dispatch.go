package fulfillment

import (
	"fmt"
	"math"
	"strings"
)

const (
	// SparePartCode is the product code of grouped spare-part lines.
	SparePartCode = "SPARE_PART"
	sparePartName = "หน้ายาง+โฟม"
)

// DispatchLines folds work-order lines into task lines: one per product code
// with quantities summed, plus one spare-part line per rubber code.
func DispatchLines(order WorkOrder, spareLocation string) []TaskLine {
	type group struct {
		line     TaskLine
		packSize int
	}
	var (
		products   []*group
		byCode     = make(map[string]*group)
		spareOrder []string
		spareQty   = make(map[string]float64)
	)
	for _, l := range order.Lines {
		code := strings.TrimSpace(l.ProductCode)
		if code == "" || l.Qty <= 0 {
			continue
		}
		g, ok := byCode[code]
		if !ok {
			g = &group{line: TaskLine{ProductCode: code, ProductName: l.ProductName, Location: l.Location}, packSize: l.PackSize}
			byCode[code] = g
			products = append(products, g)
		}
		g.line.Qty += l.Qty
		if rc := strings.TrimSpace(l.RubberCode); rc != "" {
			if _, seen := spareQty[rc]; !seen {
				spareOrder = append(spareOrder, rc)
			}
			spareQty[rc] += l.Qty
		}
	}
	out := make([]TaskLine, 0, len(products)+len(spareOrder))
	for _, g := range products {
		if g.packSize > 1 {
			g.line.Qty = math.Ceil(g.line.Qty / float64(g.packSize))
		}
		out = append(out, g.line)
	}
	for _, rc := range spareOrder {
		out = append(out, TaskLine{
			ProductCode: SparePartCode,
			ProductName: fmt.Sprintf("%s %s", sparePartName, rc),
			Location:    spareLocation,
			Qty:         spareQty[rc],
		})
	}
	return out
}
