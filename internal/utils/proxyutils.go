package utils

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rafabd1/Nightshade/internal/config"
)

// ParseProxyInput parses a proxy input string (a single proxy URL, a
// comma-separated list, or a file path with one proxy per line) into
// ProxyEntry values.
func ParseProxyInput(proxyInput string, logger Logger) ([]config.ProxyEntry, error) {
	if proxyInput == "" {
		return nil, nil
	}

	var proxyStrings []string
	if _, err := os.Stat(proxyInput); err == nil {
		logger.Debugf("Proxy input '%s' appears to be a file. Attempting to read.", proxyInput)
		lines, errRead := config.LoadLinesFromFile(proxyInput)
		if errRead != nil {
			return nil, fmt.Errorf("failed to read proxy file '%s': %w", proxyInput, errRead)
		}
		proxyStrings = lines
	} else {
		proxyStrings = strings.Split(proxyInput, ",")
	}

	var parsedProxies []config.ProxyEntry
	for _, str := range proxyStrings {
		trimmedStr := strings.TrimSpace(str)
		if trimmedStr == "" {
			continue
		}

		urlStr := trimmedStr
		if !strings.Contains(urlStr, "://") {
			urlStr = "http://" + urlStr // default scheme for the URL parser
		}

		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			logger.Warnf("Failed to parse proxy string '%s': %v. Skipping this proxy.", trimmedStr, err)
			continue
		}
		if parsedURL.Hostname() == "" || parsedURL.Port() == "" {
			logger.Warnf("Proxy string '%s' has no host:port. Skipping.", trimmedStr)
			continue
		}

		entry := config.ProxyEntry{
			Scheme: parsedURL.Scheme,
			Host:   parsedURL.Host,
		}
		if parsedURL.User != nil {
			entry.Username = parsedURL.User.Username()
			entry.Password, _ = parsedURL.User.Password()
		}
		canonical := url.URL{Scheme: entry.Scheme, Host: entry.Host}
		if entry.Username != "" {
			canonical.User = url.UserPassword(entry.Username, entry.Password)
		}
		entry.URL = canonical.String()
		parsedProxies = append(parsedProxies, entry)
	}

	if len(parsedProxies) == 0 {
		return nil, fmt.Errorf("proxy input '%s' provided, but no valid proxies could be parsed", proxyInput)
	}
	logger.Infof("Successfully parsed %d proxies.", len(parsedProxies))
	return parsedProxies, nil
}
