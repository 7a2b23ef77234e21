package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/store"
)

func TestMigrate_UpgradesStaleDocuments(t *testing.T) {
	db, _ := seed(t, 1)

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`
		INSERT INTO documents (entity_type, id, body, concurrency_version, schema_version)
		VALUES (?, 'legacy', ?, 1, 1)
	`, customer.TypeName, `{"id":"legacy","concurrencyVersion":1,"schemaVersion":1,"firstName":"John","lastName":"Doe","email":"jd@example.com","address":{}}`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--db", db, "--format", "json", "migrate")
	require.NoError(t, err)
	res := decode[MigrateResult](t, out).Data
	assert.Equal(t, map[string]int{customer.TypeName: 1}, res.Migrated)
	assert.Equal(t, 1, res.Total)

	out, err = execute(t, "--db", db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Customer: 0 document(s) migrated")
	assert.Contains(t, out, "✓ All documents at current schema version")
}
