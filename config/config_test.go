package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func writeFile(t *testing.T, txt string) string {
	fn := filepath.Join(t.TempDir(), "weavebase.yaml")
	err := os.WriteFile(fn, []byte(txt), 0644)
	tassert(t, err == nil, "%v", err)
	return fn
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvHosts, "")
	t.Setenv("DEBUG", "")
	cfg, err := Load("")
	tassert(t, err == nil, "%v", err)
	tassert(t, len(cfg.Hosts) == 1 && cfg.Hosts[0] == DefaultHost, "hosts %v", cfg.Hosts)
	tassert(t, cfg.Timeout == 20*time.Second, "timeout %v", cfg.Timeout)
	tassert(t, cfg.Level() == log.InfoLevel, "level %v", cfg.Level())
	tassert(t, cfg.UploadConcurrency == 128 && cfg.DownloadConcurrency == 10, "concurrency %d/%d", cfg.UploadConcurrency, cfg.DownloadConcurrency)

	peer, err := cfg.Peer()
	tassert(t, err == nil, "%v", err)
	tassert(t, peer.Hosts()[0].String() == "http://127.0.0.1:80", "host %s", peer.Hosts()[0])
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvHosts, "")
	t.Setenv("DEBUG", "")
	fn := writeFile(t, `
hosts: ["https://arweave.net", "http://127.0.0.1:1984"]
network: arweave.N.1
timeout: 5s
log_level: warn
max_attempts: 2
rate_limit: 4.5
retries: 3
`)
	cfg, err := Load(fn)
	tassert(t, err == nil, "%v", err)
	tassert(t, len(cfg.Hosts) == 2, "hosts %v", cfg.Hosts)
	tassert(t, cfg.Timeout == 5*time.Second, "timeout %v", cfg.Timeout)
	tassert(t, cfg.Level() == log.WarnLevel, "level %v", cfg.Level())
	tassert(t, cfg.Retries == 3, "retries %d", cfg.Retries)
	// unset keys keep their defaults
	tassert(t, cfg.UploadConcurrency == 128, "upload concurrency %d", cfg.UploadConcurrency)

	hc := cfg.HostConfig()
	tassert(t, hc.Network == "arweave.N.1" && hc.RateLimit == 4.5, "host config %+v", hc)
	peer, err := cfg.Peer()
	tassert(t, err == nil, "%v", err)
	hosts := peer.Hosts()
	tassert(t, hosts[0].String() == "https://arweave.net:443", "host %s", hosts[0])
	tassert(t, hosts[1].String() == "http://127.0.0.1:1984", "host %s", hosts[1])

	// the same file through the environment
	t.Setenv(EnvConfig, fn)
	cfg, err = Load("")
	tassert(t, err == nil, "%v", err)
	tassert(t, cfg.Network == "arweave.N.1", "network %q", cfg.Network)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvHosts, " http://a:1984, ,https://b ")
	t.Setenv("DEBUG", "1")
	cfg, err := Load(writeFile(t, "hosts: [http://ignored]\nlog_level: error\n"))
	tassert(t, err == nil, "%v", err)
	tassert(t, len(cfg.Hosts) == 2 && cfg.Hosts[0] == "http://a:1984" && cfg.Hosts[1] == "https://b", "hosts %v", cfg.Hosts)
	tassert(t, cfg.Level() == log.DebugLevel, "level %v", cfg.Level())
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvHosts, "")
	t.Setenv("DEBUG", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	tassert(t, err != nil, "missing file should fail")

	_, err = Load(writeFile(t, "hosts: [unterminated\n"))
	tassert(t, err != nil, "bad yaml should fail")

	_, err = Load(writeFile(t, "hosts: []\n"))
	tassert(t, err != nil, "empty host list should fail")

	_, err = Load(writeFile(t, "log_level: chatty\n"))
	tassert(t, err != nil, "unknown level should fail")

	_, err = Load(writeFile(t, "retries: -1\n"))
	tassert(t, err != nil, "negative retries should fail")

	cfg, err := Load(writeFile(t, "hosts: [\"ftp://x\"]\n"))
	tassert(t, err == nil, "%v", err)
	_, err = cfg.Peer()
	tassert(t, err != nil, "unsupported protocol should fail")
}

func TestSave(t *testing.T) {
	t.Setenv(EnvHosts, "")
	t.Setenv("DEBUG", "")
	cfg := Default()
	cfg.Network = "testnet"
	cfg.Timeout = 90 * time.Second
	fn := filepath.Join(t.TempDir(), "out.yaml")
	err := cfg.Save(fn)
	tassert(t, err == nil, "%v", err)
	got, err := Load(fn)
	tassert(t, err == nil, "%v", err)
	tassert(t, got.Network == "testnet" && got.Timeout == 90*time.Second, "reloaded %+v", got)
}
