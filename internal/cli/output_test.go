package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/snapshot"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E001", "snapshot take failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "snapshot take failed", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"snapshot": "0190a3c4", "event_number": "42"}
	err := formatter.Error("E002", "checksum mismatch", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("All documents at current schema version")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All documents at current schema version")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "replay failed", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "replay failed")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"snapshot": "0190a3c4"}
	err := formatter.Error("E001", "replay failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Opening %s", "chronicle.db")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Opening chronicle.db")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "E002",
		Message: "migration chains incomplete",
		Details: []string{"Customer v1 -> v2"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "E002", decoded.Code)
	assert.Equal(t, "migration chains incomplete", decoded.Message)
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("opening %s", "chronicle.db")
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "opening chronicle.db")
}

func TestOutputFormatter_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	text := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, text.Render(map[string]int{"events": 3}, func(w io.Writer) {
		fmt.Fprintln(w, "3 events")
	}))
	assert.Equal(t, "3 events\n", buf.String())

	buf.Reset()
	js := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, js.Render(map[string]int{"events": 3}, func(io.Writer) {
		t.Fatal("text renderer called in json mode")
	}))
	assert.JSONEq(t, `{"status":"ok","data":{"events":3}}`, buf.String())
}

func TestOutputFormatter_FailClassifies(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		class    string
		exitCode int
	}{
		{"conflict", fmt.Errorf("update: %w", entitystore.ErrConcurrencyViolation), "E001", "conflict", ExitFailure},
		{"integrity", snapshot.ErrChecksumMismatch, "E004", "integrity", ExitFailure},
		{"not found", snapshot.ErrSnapshotNotFound, "E005", "not_found", ExitCommandError},
		{"internal", errors.New("disk on fire"), "E999", "internal", ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("operation failed", tt.err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.class, resp.Error.Class)
			assert.Equal(t, "operation failed", resp.Error.Message)
		})
	}
}

func TestOutputFormatter_FailText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail("failed to restore snapshot", snapshot.ErrSnapshotNotFound)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Error [E005]: failed to restore snapshot")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flags")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "x", errors.New("y")))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
