package customer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/migration"
)

func TestRegisterChainIsValid(t *testing.T) {
	entities := entity.NewRegistry()
	migrations := migration.NewSet()
	Register(entities, migrations)

	require.NoError(t, migrations.Validate())
	assert.True(t, entities.Has(TypeName))
	assert.Equal(t, SchemaVersion, migrations.Current(TypeName))
}

func TestUpgradeFromV1(t *testing.T) {
	migrations := migration.NewSet()
	Register(entity.NewRegistry(), migrations)

	v1 := V1{Base: entity.Base{ID: "c1", ConcurrencyVersion: 2, SchemaVersion: 1}, FirstName: "John", LastName: "Doe", Email: "john@example.com"}
	body, err := json.Marshal(v1)
	require.NoError(t, err)

	var got Customer
	require.NoError(t, migrations.Upgrade(TypeName, 1, body, &got))
	assert.Equal(t, "John - Doe", got.Name)
	assert.Equal(t, "john@example.com", got.Email)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, 2, got.ConcurrencyVersion)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
}

func TestPersonalDataPaths(t *testing.T) {
	c := New("Ada", "ada@example.com")
	var paths []string
	for _, f := range c.PersonalData() {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"Name", "Email", "Address.Street", "Address.Location.Latitude"}, paths)
}
