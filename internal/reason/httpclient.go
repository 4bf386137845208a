package reason

import (
	"net/http"
	"net/url"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

// newHTTPClient builds the client the providers share: the configured
// timeout with a provider-specific floor, and the configured proxies with
// an environment fallback.
func newHTTPClient(cfg model.ReasonConfig, fallbackTimeout time.Duration) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = fallbackTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: proxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy)},
	}
}

func proxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
