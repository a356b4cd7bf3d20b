package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
		check   func(*Config) bool
	}{
		{"missing file uses defaults", filepath.Join(dir, "absent.json"), "",
			func(c *Config) bool { return c.Entry == "main" && c.Color == "auto" }},
		{"overrides", write("a.json", `{"workers": 3, "entry": "start", "color": "never"}`), "",
			func(c *Config) bool { return c.Workers == 3 && c.Entry == "start" && c.Schema != "" }},
		{"bad constraint", write("b.json", `{"schema": "not a range"}`), "invalid schema constraint", nil},
		{"bad color", write("c.json", `{"color": "sometimes"}`), "color must be", nil},
		{"negative workers", write("d.json", `{"workers": -1}`), "workers", nil},
		{"malformed", write("e.json", `{`), "failed to parse", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadConfig(tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(c) {
				t.Errorf("config = %+v", c)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), DefaultConfigFile)
	c := DefaultConfig()
	c.MaxErrors = 7
	if err := c.SaveConfig(p); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.MaxErrors != 7 || got.Serve.Addr != c.Serve.Addr {
		t.Errorf("loaded %+v", got)
	}
}

func TestUseColor(t *testing.T) {
	c := DefaultConfig()
	c.Color = "always"
	if !c.UseColor(nil) {
		t.Error("always must enable color")
	}
	c.Color = "never"
	if c.UseColor(os.Stdout) {
		t.Error("never must disable color")
	}
	c.Color = "auto"
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if c.UseColor(f) {
		t.Error("a regular file is not a terminal")
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Verbose: false, DebugMode: true, Out: &buf}
	l.Info("hidden")
	l.Debug("shown %d", 1)
	l.Warn("careful")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "[DEBUG]") || !strings.Contains(out, "shown 1") || !strings.Contains(out, "[WARN]") {
		t.Errorf("output:\n%s", out)
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf, "asbelc", true)
	if !strings.Contains(buf.String(), `"version": "`+Version+`"`) {
		t.Errorf("json version:\n%s", buf.String())
	}
}
