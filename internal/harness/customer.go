package harness

import (
	"fmt"

	"github.com/roach88/chronicle/internal/customer"
)

var customerFields = map[string]func(*customer.Customer) *string{
	"name":   func(c *customer.Customer) *string { return &c.Name },
	"email":  func(c *customer.Customer) *string { return &c.Email },
	"tier":   func(c *customer.Customer) *string { return &c.Tier },
	"street": func(c *customer.Customer) *string { return &c.Address.Street },
	"city":   func(c *customer.Customer) *string { return &c.Address.City },
}

func knownField(name string) bool {
	_, ok := customerFields[name]
	return ok
}

func applyFields(c *customer.Customer, fields map[string]string) error {
	for k, v := range fields {
		field, ok := customerFields[k]
		if !ok {
			return fmt.Errorf("unknown customer field %q", k)
		}
		*field(c) = v
	}
	return nil
}

func fieldValue(c *customer.Customer, name string) (string, bool) {
	field, ok := customerFields[name]
	if !ok {
		return "", false
	}
	return *field(c), true
}
