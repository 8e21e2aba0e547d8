package httpclient

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/config"
)

func TestShouldBypassProxy(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		noProxy string
		want    bool
	}{
		{
			name:    "empty no_proxy",
			host:    "example.com",
			noProxy: "",
			want:    false,
		},
		{
			name:    "exact match",
			host:    "example.com",
			noProxy: "example.com",
			want:    true,
		},
		{
			name:    "exact match with port",
			host:    "example.com:8080",
			noProxy: "example.com",
			want:    true,
		},
		{
			name:    "domain suffix match",
			host:    "api.example.com",
			noProxy: ".example.com",
			want:    true,
		},
		{
			name:    "subdomain match",
			host:    "api.example.com",
			noProxy: "example.com",
			want:    true,
		},
		{
			name:    "no match",
			host:    "other.com",
			noProxy: "example.com",
			want:    false,
		},
		{
			name:    "wildcard match",
			host:    "anything.com",
			noProxy: "*",
			want:    true,
		},
		{
			name:    "multiple entries match",
			host:    "api.internal.com",
			noProxy: "example.com, internal.com",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldBypassProxy(tt.host, tt.noProxy); got != tt.want {
				t.Errorf("shouldBypassProxy(%q, %q) = %v, want %v", tt.host, tt.noProxy, got, tt.want)
			}
		})
	}
}

func TestProxyFunc(t *testing.T) {
	cfg := &config.ProxyConfig{
		HTTPProxy:  "http://proxy.internal:3128",
		HTTPSProxy: "http://secure-proxy.internal:3128",
		NoProxy:    "localhost",
	}

	newRequest := func(rawURL string) *http.Request {
		u, err := url.Parse(rawURL)
		if err != nil {
			t.Fatalf("parse URL: %v", err)
		}
		return &http.Request{URL: u}
	}

	t.Run("https uses https proxy", func(t *testing.T) {
		got, err := proxyFunc(newRequest("https://api.example.com"), cfg)
		if err != nil {
			t.Fatalf("proxyFunc: %v", err)
		}
		if got == nil || got.Host != "secure-proxy.internal:3128" {
			t.Errorf("expected https proxy, got %v", got)
		}
	})

	t.Run("http uses http proxy", func(t *testing.T) {
		got, err := proxyFunc(newRequest("http://api.example.com"), cfg)
		if err != nil {
			t.Fatalf("proxyFunc: %v", err)
		}
		if got == nil || got.Host != "proxy.internal:3128" {
			t.Errorf("expected http proxy, got %v", got)
		}
	})

	t.Run("no_proxy host bypasses", func(t *testing.T) {
		got, err := proxyFunc(newRequest("https://localhost:8080"), cfg)
		if err != nil {
			t.Fatalf("proxyFunc: %v", err)
		}
		if got != nil {
			t.Errorf("expected bypass, got %v", got)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("default timeout", func(t *testing.T) {
		client, err := New(Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if client.Timeout != DefaultTimeout {
			t.Errorf("expected %v timeout, got %v", DefaultTimeout, client.Timeout)
		}
	})

	t.Run("from agent config", func(t *testing.T) {
		cfg := &config.AgentConfig{HTTPProxy: "http://proxy.internal:3128"}
		client, err := NewWithConfig(cfg, 5*time.Second)
		if err != nil {
			t.Fatalf("NewWithConfig: %v", err)
		}
		if client.Timeout != 5*time.Second {
			t.Errorf("expected 5s timeout, got %v", client.Timeout)
		}
	})
}
