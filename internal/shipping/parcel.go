package shipping

import (
	"errors"

	"github.com/fernwell/api/internal/domain"
)

// ErrEmptyParcel is returned when no line item contributes weight.
var ErrEmptyParcel = errors.New("shipping: parcel has no weight")

// itemWeight is a line item's shippable weight contribution.
type itemWeight struct {
	WeightGrams float64
	Quantity    int
}

// BuildParcel derives the physical package for an order: product weights are
// summed per quantity, the preset's empty-box weight is added, and the
// preset supplies the dimensions.
func BuildParcel(items []domain.LineItem, products map[string]domain.Product, preset domain.PackagePreset) (domain.Parcel, error) {
	weights := make([]itemWeight, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		weights = append(weights, itemWeight{
			WeightGrams: product.WeightGrams,
			Quantity:    item.Quantity,
		})
	}
	return buildParcelFromWeights(weights, preset)
}

func buildParcelFromWeights(weights []itemWeight, preset domain.PackagePreset) (domain.Parcel, error) {
	total := 0.0
	for _, w := range weights {
		qty := w.Quantity
		if qty < 1 {
			qty = 1
		}
		total += w.WeightGrams * float64(qty)
	}
	if total <= 0 {
		return domain.Parcel{}, ErrEmptyParcel
	}

	return domain.Parcel{
		WeightGrams: total + preset.TareGrams,
		LengthCM:    preset.LengthCM,
		WidthCM:     preset.WidthCM,
		HeightCM:    preset.HeightCM,
	}, nil
}
