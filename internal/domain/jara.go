package domain

// JaraQuantity computes the free units earned by a purchased quantity under a
// buy-X-get-Y promotion: floor(quantity/buyQty)*getQty. A promotion with
// buyQty <= 0 is inactive and yields zero, as do non-positive quantities or
// getQty values, so the function is total over all int64 inputs.
func JaraQuantity(quantity, buyQty, getQty int64) int64 {
	if buyQty <= 0 || getQty <= 0 || quantity <= 0 {
		return 0
	}
	return (quantity / buyQty) * getQty
}

// LineTotal is the amount charged for a cart line. Jara units are free and never
// contribute to the total.
func LineTotal(unitPrice, quantity int64) int64 {
	if unitPrice < 0 || quantity < 0 {
		return 0
	}
	return unitPrice * quantity
}
