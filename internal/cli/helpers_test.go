package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/engine"
	"github.com/roach88/chronicle/internal/event"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decode[T any](t *testing.T, raw string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	return resp
}

// seed creates a database holding n customers, each with its create event.
func seed(t *testing.T, n int) (string, []*customer.Customer) {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "chronicle.db")
	eng, err := engine.Open(cfg,
		engine.WithRegistrar(customer.Register),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	defer eng.Close()

	var out []*customer.Customer
	for i := range n {
		c := customer.New(fmt.Sprintf("Customer %d", i+1), fmt.Sprintf("c%d@example.com", i+1))
		require.NoError(t, eng.EntityStore.Insert(ctx, c))
		require.NoError(t, eng.Events.InsertEvent(ctx, event.NewCreate(c)))
		out = append(out, c)
	}
	return cfg.Database.Path, out
}
