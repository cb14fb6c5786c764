package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

func TestRunCmd_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"run", "--example", "--offline", "-o", "result.json"})
	if err != nil {
		t.Fatal(err)
	}

	if !cli.Run.Example {
		t.Error("expected --example to be set")
	}
	if !cli.Run.Offline {
		t.Error("expected --offline to be set")
	}
	if !strings.HasSuffix(cli.Run.Out, "result.json") {
		t.Errorf("expected out to end with result.json, got %q", cli.Run.Out)
	}
}

func TestRunCmd_InputAndExampleConflict(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"run", "--example", "-i", "input.json"})
	if err == nil {
		t.Fatal("expected error when both --input and --example are given")
	}
}

func TestServeCmd_Port(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"serve", "-p", "9000"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Serve.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cli.Serve.Port)
	}
}

func testApp(stdout *bytes.Buffer) *App {
	cfg := DefaultConfig()
	cfg.Generation.Provider = ProviderOffline
	return &App{
		Config: cfg,
		Logger: zerolog.Nop(),
		Stdout: stdout,
		Stdin:  strings.NewReader(""),
	}
}

func TestRunCmd_ExampleOffline(t *testing.T) {
	var out bytes.Buffer
	app := testApp(&out)

	cmd := &RunCmd{Example: true, Offline: true}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var result simulation.Result
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("stdout is not a result document: %v", err)
	}
	if len(result.Campaign.Phases) != 3 {
		t.Errorf("expected 3 phases, got %d", len(result.Campaign.Phases))
	}
	if len(result.AAR.ExecutiveSummary) == 0 {
		t.Error("expected an executive summary")
	}
}

func TestRunCmd_WritesFileAndExports(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	app := testApp(&out)

	cmd := &RunCmd{
		Example:   true,
		Offline:   true,
		Out:       filepath.Join(dir, "result.json"),
		ExportDir: filepath.Join(dir, "export"),
	}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if out.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", out.String())
	}
	if _, err := os.Stat(cmd.Out); err != nil {
		t.Errorf("expected result file: %v", err)
	}

	manifests, err := filepath.Glob(filepath.Join(cmd.ExportDir, "*", "tokens.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(manifests) != 1 {
		t.Errorf("expected one token manifest, got %d", len(manifests))
	}
}

func TestRunCmd_ConsentRequired(t *testing.T) {
	dir := t.TempDir()
	in := simulation.ExampleInput()
	in.SafetyConsent = false
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "input.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := &RunCmd{Input: path, Offline: true}
	err = cmd.Run(testApp(&out))
	if err == nil {
		t.Fatal("expected consent error")
	}
	if !strings.Contains(err.Error(), "safety consent") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunCmd_ReadInput(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		cmd := &RunCmd{Input: "-"}
		data, err := cmd.readInput(strings.NewReader(`{"a":1}`))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != `{"a":1}` {
			t.Errorf("unexpected input %q", data)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		cmd := &RunCmd{}
		if _, err := cmd.readInput(strings.NewReader("")); err == nil {
			t.Error("expected error without a source")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := &RunCmd{Input: filepath.Join(t.TempDir(), "nope.json")}
		if _, err := cmd.readInput(strings.NewReader("")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestStagesCmd(t *testing.T) {
	var out bytes.Buffer
	if err := (&StagesCmd{}).Run(testApp(&out)); err != nil {
		t.Fatal(err)
	}

	for _, def := range stages.Catalog() {
		if !strings.Contains(out.String(), string(def.Name)) {
			t.Errorf("expected stage %s in output", def.Name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	if err := (&VersionCmd{}).Run(testApp(&out)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("expected version %q in output", Version)
	}
}

func TestNewService_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig().Generation
	cfg.Provider = "bogus"
	if _, err := newService(t.Context(), cfg, false, "", zerolog.Nop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}
