package httpapi

import (
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// SetProxy routes engine requests through proxyURL. Hosts matching noProxy
// (comma separated hosts, *.domains and CIDRs) connect directly.
func (c *Client) SetProxy(proxyURL, noProxy string) error {
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid proxy URL %q", proxyURL)
	}
	tr, ok := c.httpClient.HTTPClient.Transport.(*http.Transport)
	if !ok {
		return fmt.Errorf("cannot set proxy on transport %T", c.httpClient.HTTPClient.Transport)
	}
	tr.Proxy = proxyFuncWithBypass(u, noProxy)
	return nil
}

// proxyFuncWithBypass behaves like http.ProxyURL when noProxy is empty.
// Loopback hosts are never proxied once a bypass list is set.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*http.Request) (*url.URL, error) {
	if noProxy == "" {
		return http.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
}
