package gateway

import (
	"net/http"
	"time"

	"github.com/n9te9/federation-gateway/subgraph"
)

// FetchSDLForTest exports fetchSDL for black-box testing from gateway_test.
func FetchSDLForTest(host string, httpClient *http.Client, retry RetryOption) (string, error) {
	return fetchSDL(host, httpClient, retry)
}

// BuildEngineForTest exports buildEngine for black-box testing from gateway_test.
func BuildEngineForTest(sdls, hosts map[string]string, clients map[string]*subgraph.Client) (*executionEngine, error) {
	return buildEngine(sdls, hosts, clients)
}

// CopyMapForTest exports copyMap for black-box testing from gateway_test.
func CopyMapForTest(m map[string]string) map[string]string {
	return copyMap(m)
}

// LookupHeaderRewriteForTest exports lookupHeaderRewrite for black-box testing from gateway_test.
func LookupHeaderRewriteForTest(name string) HeaderRewriteFunc {
	return lookupHeaderRewrite(name)
}

// RetryCountForTest exports GatewayConfig.retryCount for black-box testing from gateway_test.
func (c GatewayConfig) RetryCountForTest() int { return c.retryCount() }

// PollingIntervalForTest exports GatewayConfig.pollingInterval for black-box testing from gateway_test.
func (c GatewayConfig) PollingIntervalForTest() time.Duration { return c.pollingInterval() }
