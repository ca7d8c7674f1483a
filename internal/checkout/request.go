package checkout

import (
	"encoding/json"
	"fmt"
	"math"
)

// Item is one cart line. UnitPrice must be sent with the cart payload but the
// stored price always comes from the catalog.
type Item struct {
	ProductID int64    `json:"product_id" validate:"gt=0"`
	Quantity  int      `json:"quantity" validate:"gt=0"`
	UnitPrice *float64 `json:"unit_price" validate:"required,gte=0"`
}

// UnmarshalJSON accepts integral numbers written with a fraction or exponent
// ("2.0", "1e1") for product_id and quantity. Fractional values are rejected.
func (it *Item) UnmarshalJSON(b []byte) error {
	var raw struct {
		ProductID *float64 `json:"product_id"`
		Quantity  *float64 `json:"quantity"`
		UnitPrice *float64 `json:"unit_price"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	id, err := wholeNumber("product_id", raw.ProductID)
	if err != nil {
		return err
	}
	qty, err := wholeNumber("quantity", raw.Quantity)
	if err != nil {
		return err
	}
	*it = Item{ProductID: id, Quantity: int(qty), UnitPrice: raw.UnitPrice}
	return nil
}

// wholeNumber leaves a missing field at zero so validation reports it.
func wholeNumber(field string, v *float64) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if *v != math.Trunc(*v) || math.Abs(*v) > 1<<53 {
		return 0, fmt.Errorf("%s: %v is not a whole number", field, *v)
	}
	return int64(*v), nil
}

type Request struct {
	CustomerName  string `json:"customer_name" validate:"required,max=255"`
	CustomerEmail string `json:"customer_email" validate:"required,email,max=255"`
	Address       string `json:"address" validate:"min=5,max=500"`
	Items         []Item `json:"items" validate:"required,min=1,dive"`
}
