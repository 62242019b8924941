package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/credresolve/internal/batch"
	"github.com/sells-group/credresolve/internal/portal/portaltest"
	"github.com/sells-group/credresolve/internal/sheet"
)

func TestResolveCommand_WritesResults(t *testing.T) {
	srv := portaltest.New(map[string]portaltest.Account{
		"20111222333": {Secret: "secretA", Name: "PEREZ JUAN"},
	})
	defer srv.Close()

	orig, origOut := cfg, resolveOut
	t.Cleanup(func() { cfg, resolveOut = orig, origOut })
	cfg = testConfig(srv.LoginURL())

	dir := t.TempDir()
	in := filepath.Join(dir, "clientes.csv")
	require.NoError(t, os.WriteFile(in, []byte("CUIT,CLAVE,CLIENTE\n20111222333,secretA,C001\n27000000000,bad,C002\n"), 0o600))
	resolveOut = filepath.Join(dir, "out.xlsx")

	resolveCmd.SetContext(context.Background())
	require.NoError(t, resolveCmd.RunE(resolveCmd, []string{in}))

	wb, err := xlsx.OpenFile(resolveOut)
	require.NoError(t, err)
	sh := wb.Sheet[sheet.ResultSheetName]
	require.NotNil(t, sh)
	require.Len(t, sh.Rows, 3)
	assert.Equal(t, "C001", sh.Rows[1].Cells[0].String())
	assert.Equal(t, "PEREZ JUAN", sh.Rows[1].Cells[1].String())
	assert.Equal(t, "C002", sh.Rows[2].Cells[0].String())
	assert.Contains(t, sh.Rows[2].Cells[1].String(), "ERROR: enter_secret")
}

func TestResolveCommand_NoValidRows(t *testing.T) {
	orig, origOut := cfg, resolveOut
	t.Cleanup(func() { cfg, resolveOut = orig, origOut })
	cfg = testConfig("http://127.0.0.1:1/login")

	dir := t.TempDir()
	in := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(in, []byte("CUIT,CLAVE,CLIENTE\n ,x,C1\n"), 0o600))
	resolveOut = filepath.Join(dir, "out.xlsx")

	resolveCmd.SetContext(context.Background())
	err := resolveCmd.RunE(resolveCmd, []string{in})
	assert.ErrorIs(t, err, sheet.ErrNoValidRows)

	_, statErr := os.Stat(resolveOut)
	assert.True(t, os.IsNotExist(statErr), "no partial output")
}

func TestResolveCommand_CancelledRunWritesNothing(t *testing.T) {
	srv := portaltest.New(map[string]portaltest.Account{
		"20111222333": {Secret: "secretA", Name: "PEREZ JUAN"},
	})
	defer srv.Close()

	orig, origOut := cfg, resolveOut
	t.Cleanup(func() { cfg, resolveOut = orig, origOut })
	cfg = testConfig(srv.LoginURL())

	dir := t.TempDir()
	in := filepath.Join(dir, "clientes.csv")
	require.NoError(t, os.WriteFile(in, []byte("CUIT,CLAVE,CLIENTE\n20111222333,secretA,C001\n"), 0o600))
	resolveOut = filepath.Join(dir, "out.xlsx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolveCmd.SetContext(ctx)
	t.Cleanup(func() { resolveCmd.SetContext(context.Background()) })

	err := resolveCmd.RunE(resolveCmd, []string{in})
	var f *batch.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, batch.KindCancelled, f.Kind)

	_, statErr := os.Stat(resolveOut)
	assert.True(t, os.IsNotExist(statErr), "no output for an interrupted run")
}
