package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetOrigin != "*" {
		t.Errorf("TargetOrigin = %q, want *", cfg.TargetOrigin)
	}
	if cfg.Transport.Backend != "grpc" {
		t.Errorf("Backend = %q, want grpc", cfg.Transport.Backend)
	}
	if cfg.Observability.LogFormat != "text" || cfg.Observability.LogLevel != "info" {
		t.Errorf("log = %q/%q", cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	}
	if cfg.Observability.ServiceName != "ifrau" {
		t.Errorf("ServiceName = %q", cfg.Observability.ServiceName)
	}
	if cfg.Debug {
		t.Error("debug on by default")
	}
	if cfg.Output != "text" {
		t.Errorf("Output = %q, want text", cfg.Output)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IFRAU_TARGET_ORIGIN", "https://host.example")
	t.Setenv("IFRAU_TRANSPORT_BACKEND", "redis")
	t.Setenv("IFRAU_OBSERVABILITY_LOG_LEVEL", "debug")
	t.Setenv("IFRAU_DEBUG", "true")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetOrigin != "https://host.example" {
		t.Errorf("TargetOrigin = %q", cfg.TargetOrigin)
	}
	if cfg.Transport.Backend != "redis" {
		t.Errorf("Backend = %q", cfg.Transport.Backend)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Observability.LogLevel)
	}
	if !cfg.Debug {
		t.Error("debug not set from env")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ifrau.yaml")
	data := []byte(`
target_origin: https://app.example
filter: kind != "event"
transport:
  backend: redis
  config:
    addr: 10.0.0.1:6379
    key_prefix: "test:"
observability:
  log_format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetOrigin != "https://app.example" {
		t.Errorf("TargetOrigin = %q", cfg.TargetOrigin)
	}
	if cfg.Filter != `kind != "event"` {
		t.Errorf("Filter = %q", cfg.Filter)
	}
	if cfg.Transport.Backend != "redis" {
		t.Errorf("Backend = %q", cfg.Transport.Backend)
	}
	if got := cfg.Transport.Config["addr"]; got != "10.0.0.1:6379" {
		t.Errorf("addr = %q", got)
	}
	if got := cfg.Transport.Config["key_prefix"]; got != "test:" {
		t.Errorf("key_prefix = %q", got)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.Observability.LogFormat)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestFromCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	root := &cobra.Command{Use: "root"}
	AddCommonFlags(root)

	var got Config
	child := &cobra.Command{
		Use: "child",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			got, err = FromCommand(cmd)
			return err
		},
	}
	AddHostFlags(child)
	AddClientFlags(child)
	root.AddCommand(child)

	root.SetArgs([]string{
		"child",
		"--backend", "mem",
		"--id", "client",
		"--origin", "https://client.example",
		"--counterpart", "host",
		"--src", "https://app.example/index.html",
		"--target-origin", "https://host.example",
		"--log-level", "warn",
		"-o", "json",
	})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}

	if got.Transport.Backend != "mem" {
		t.Errorf("Backend = %q", got.Transport.Backend)
	}
	want := map[string]string{"id": "client", "origin": "https://client.example", "counterpart": "host"}
	for k, w := range want {
		if v := got.Transport.Config[k]; v != w {
			t.Errorf("transport.config[%s] = %q, want %q", k, v, w)
		}
	}
	if _, ok := got.Transport.Config["addr"]; ok {
		t.Error("unset addr flag should not appear in transport config")
	}
	if got.Src != "https://app.example/index.html" {
		t.Errorf("Src = %q", got.Src)
	}
	if got.TargetOrigin != "https://host.example" {
		t.Errorf("TargetOrigin = %q", got.TargetOrigin)
	}
	if got.Observability.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", got.Observability.LogLevel)
	}
	if got.Output != "json" {
		t.Errorf("Output = %q", got.Output)
	}
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IFRAU_TRANSPORT_BACKEND", "redis")

	cmd := &cobra.Command{Use: "x"}
	AddCommonFlags(cmd)
	if err := cmd.ParseFlags([]string{"--backend", "grpc"}); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	BindFlags(v, cmd.Flags())
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Backend != "grpc" {
		t.Fatalf("Backend = %q, want flag value", cfg.Transport.Backend)
	}
}

func TestObsConfig(t *testing.T) {
	o := ObservabilityConfig{LogLevel: "debug", LogFormat: "json", OTLPEndpoint: "localhost:4317", OTLPProtocol: "grpc", ServiceName: "svc", ServiceVersion: "1"}
	got := o.ObsConfig()
	if got.LogLevel != "debug" || got.OTLPProtocol != "grpc" || got.ServiceName != "svc" || got.ServiceVersion != "1" {
		t.Fatalf("ObsConfig = %+v", got)
	}
}
