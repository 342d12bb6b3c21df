package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IngredientShape identifies which stored ingredient layout was read.
type IngredientShape int

const (
	// ShapeText is the oldest layout: a bare string.
	ShapeText IngredientShape = iota
	// ShapeNameAmount is {name, amount}.
	ShapeNameAmount
	// ShapeCurrent is {name, quantity, unit}.
	ShapeCurrent
)

// StoredIngredient is an ingredient in any layout ever persisted. Decode with
// json.Unmarshal and call Normalize before use.
type StoredIngredient struct {
	Shape    IngredientShape
	Text     string
	Name     string
	Amount   string
	Quantity string
	Unit     string
}

func (s *StoredIngredient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = StoredIngredient{Shape: ShapeText, Text: text}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("ingredient is neither text nor object: %w", err)
	}
	str := func(key string) string {
		var v string
		if raw, ok := fields[key]; ok {
			_ = json.Unmarshal(raw, &v)
		}
		return v
	}

	_, hasQuantity := fields["quantity"]
	_, hasAmount := fields["amount"]
	if hasAmount && !hasQuantity {
		*s = StoredIngredient{Shape: ShapeNameAmount, Name: str("name"), Amount: str("amount")}
		return nil
	}
	*s = StoredIngredient{Shape: ShapeCurrent, Name: str("name"), Quantity: str("quantity"), Unit: str("unit")}
	return nil
}

// Normalize converts any stored layout into the current Ingredient.
func (s StoredIngredient) Normalize() Ingredient {
	switch s.Shape {
	case ShapeText:
		return Ingredient{Name: s.Text}
	case ShapeNameAmount:
		return Ingredient{Name: s.Name, Quantity: s.Amount}
	}
	return Ingredient{Name: s.Name, Quantity: s.Quantity, Unit: s.Unit}
}

// NormalizeIngredients converts a stored ingredient list.
func NormalizeIngredients(stored []StoredIngredient) []Ingredient {
	out := make([]Ingredient, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Normalize())
	}
	return out
}
