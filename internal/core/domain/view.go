package domain

import "fmt"

// ProductView is what verification returns. State and history come from two
// separate reads, so Consistent is false when they disagree.
type ProductView struct {
	Product    Product
	History    []TransferRecord
	Consistent bool
	Anomalies  []string
}

func NewProductView(product Product, history []TransferRecord) ProductView {
	anomalies := CustodyAnomalies(product, history)
	return ProductView{
		Product:    product,
		History:    history,
		Consistent: len(anomalies) == 0,
		Anomalies:  anomalies,
	}
}

// CustodyAnomalies lists every break in the chain of custody between the
// product state and its transfer history.
func CustodyAnomalies(product Product, history []TransferRecord) []string {
	var anomalies []string
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if cur.From != prev.To {
			anomalies = append(anomalies, fmt.Sprintf(
				"transfer %d: from %s does not match previous recipient %s", i, cur.From.Hex(), prev.To.Hex()))
		}
		if cur.Timestamp.Before(prev.Timestamp) {
			anomalies = append(anomalies, fmt.Sprintf(
				"transfer %d: timestamp %s precedes transfer %d", i, cur.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), i-1))
		}
	}
	if n := len(history); n > 0 && history[n-1].To != product.CurrentOwner {
		anomalies = append(anomalies, fmt.Sprintf(
			"current owner %s differs from last recipient %s", product.CurrentOwner.Hex(), history[n-1].To.Hex()))
	}
	return anomalies
}
