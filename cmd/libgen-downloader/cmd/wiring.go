package cmd

import (
	"fmt"
	"net/http"
	"time"

	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/store"
	"go-libgen-download/internal/throttle"
)

// newCatalogClient builds the throttled catalog client from the global
// config, sharing the global transport so --log-http covers everything.
func newCatalogClient() *catalog.Client {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.HttpTimeoutSec) * time.Second,
	}
	th := throttle.New(
		time.Duration(globalConfig.DelayMs)*time.Millisecond,
		time.Duration(globalConfig.JitterMs)*time.Millisecond,
	)
	client := catalog.NewClient(globalConfig.CatalogBaseURL, httpClient, th)
	if globalConfig.UserAgent != "" {
		client.UserAgent = globalConfig.UserAgent
	}
	return client
}

// openStore opens the dedup store at the configured path.
func openStore() (*store.Store, error) {
	if globalConfig.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not set in the configuration")
	}
	return store.Open(globalConfig.DatabasePath)
}
