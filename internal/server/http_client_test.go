package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/tile-hub/tile-hub/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaultsVerifyTLS(t *testing.T) {
	client := NewUpstreamClient(&config.Config{})

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig != nil && transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("证书校验默认必须开启")
	}
}

func TestNewUpstreamClientHonorsInsecureSkipVerify(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			InsecureSkipVerify: true,
		},
	}

	client := NewUpstreamClient(cfg)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("显式配置后应跳过证书校验")
	}
}

func TestNewUpstreamClientClonesTransport(t *testing.T) {
	a := NewUpstreamClient(&config.Config{
		Global: config.GlobalConfig{InsecureSkipVerify: true},
	})
	b := NewUpstreamClient(&config.Config{})

	bt := b.Transport.(*http.Transport)
	if bt.TLSClientConfig != nil && bt.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("共享 transport 不应被上一次配置污染")
	}
	if a.Transport == b.Transport {
		t.Fatalf("每个 client 应持有独立的 transport 克隆")
	}
}
