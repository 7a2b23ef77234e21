// Package customer is the reference aggregate shipped with chronicle. The
// scenario harness and the chronicle binary use it, and it shows a
// complete registration: a three-step schema history and nested personal
// data.
package customer

import (
	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/personal"
)

// TypeName is the stored entity type name.
const TypeName = "Customer"

// SchemaVersion is the current schema version of Customer.
const SchemaVersion = 3

// Location is a geographic coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is a postal address value object.
type Address struct {
	Street   string   `json:"street"`
	City     string   `json:"city"`
	Location Location `json:"location"`
}

// PersonalData implements personal.Holder.
func (a *Address) PersonalData() []personal.Field {
	return append([]personal.Field{
		personal.Of("Street", &a.Street),
	}, personal.Nest("Location", personal.Of("Latitude", &a.Location.Latitude))...)
}

// Customer is the current (v3) shape.
type Customer struct {
	entity.Base
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Tier    string  `json:"tier,omitempty"`
	Address Address `json:"address"`
}

// New returns a Customer with a fresh identity.
func New(name, email string) *Customer {
	b := entity.NewBase()
	b.SchemaVersion = SchemaVersion
	return &Customer{Base: b, Name: name, Email: email}
}

// EntityType implements entity.Entity.
func (*Customer) EntityType() string { return TypeName }

// PersonalData implements personal.Holder.
func (c *Customer) PersonalData() []personal.Field {
	return append([]personal.Field{
		personal.Of("Name", &c.Name),
		personal.Of("Email", &c.Email),
	}, personal.Nest("Address", c.Address.PersonalData()...)...)
}

// V1 is the original shape, with the name split in two.
type V1 struct {
	entity.Base
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Tier      string  `json:"tier,omitempty"`
	Address   Address `json:"address"`
}

// V2 renamed LastName to SurName.
type V2 struct {
	entity.Base
	FirstName string  `json:"firstName"`
	SurName   string  `json:"surName"`
	Email     string  `json:"email"`
	Tier      string  `json:"tier,omitempty"`
	Address   Address `json:"address"`
}

// Register adds Customer and its schema history to the registries.
func Register(entities *entity.Registry, migrations *migration.Set) {
	entity.Register[Customer](entities)

	migrations.Versions.Register(TypeName, SchemaVersion)
	migration.RegisterShape[V1](migrations.Types, TypeName, 1)
	migration.RegisterShape[V2](migrations.Types, TypeName, 2)
	migration.RegisterShape[Customer](migrations.Types, TypeName, 3)
	migration.Register(migrations.Migrator, TypeName, 1, toV2)
	migration.Register(migrations.Migrator, TypeName, 2, toV3)
}

func toV2(in *V1) (*V2, error) {
	return &V2{
		Base:      in.Base,
		FirstName: in.FirstName,
		SurName:   in.LastName,
		Email:     in.Email,
		Tier:      in.Tier,
		Address:   in.Address,
	}, nil
}

func toV3(in *V2) (*Customer, error) {
	return &Customer{
		Base:    in.Base,
		Name:    in.FirstName + " - " + in.SurName,
		Email:   in.Email,
		Tier:    in.Tier,
		Address: in.Address,
	}, nil
}
