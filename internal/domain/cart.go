package domain

// Cart is the caller-owned list of lines staged for checkout. It enforces the
// stock ceiling captured when a product is first added.
type Cart struct {
	lines []CartLine
}

func (c *Cart) Add(product Product, qty int) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	for i, line := range c.lines {
		if line.ProductID != product.ID {
			continue
		}
		next := line.Quantity + qty
		if next > line.MaxQuantity {
			return &InsufficientStockError{ProductID: product.ID, Requested: next, Available: line.MaxQuantity}
		}
		c.lines[i].Quantity = next
		return nil
	}

	if qty > product.Quantity {
		return &InsufficientStockError{ProductID: product.ID, Requested: qty, Available: product.Quantity}
	}
	c.lines = append(c.lines, CartLine{
		ProductID:      product.ID,
		Name:           product.Name,
		UnitPriceCents: product.PriceCents,
		Quantity:       qty,
		MaxQuantity:    product.Quantity,
	})
	return nil
}

func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	for i, line := range c.lines {
		if line.ProductID != productID {
			continue
		}
		if qty > line.MaxQuantity {
			return &InsufficientStockError{ProductID: productID, Requested: qty, Available: line.MaxQuantity}
		}
		c.lines[i].Quantity = qty
		return nil
	}
	return &NotFoundError{Entity: "cart line", ID: productID}
}

func (c *Cart) Remove(productID string) {
	kept := c.lines[:0]
	for _, line := range c.lines {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	c.lines = kept
}

func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Clear() {
	c.lines = nil
}
