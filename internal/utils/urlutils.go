package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	// schemePattern verifica se a URL começa com um esquema como http:// ou https://
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+-.]*://`)

	// protocolRelativePattern verifica se a URL começa com // (protocol-relative)
	protocolRelativePattern = regexp.MustCompile(`^//`)

	// fetchableSchemes are the schemes a target may be downloaded from.
	fetchableSchemes = map[string]bool{"http": true, "https": true}
)

// LooksLikeURL reports whether s is a single absolute http(s) URL and
// nothing else (no whitespace, no trailing data).
func LooksLikeURL(s string) bool {
	if len(s) > 2048 || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	if !schemePattern.MatchString(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return fetchableSchemes[strings.ToLower(u.Scheme)] && u.Host != ""
}

// IsValidURL verifica se uma string é uma URL válida e absoluta.
func IsValidURL(rawURL string) bool {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false
	}
	return parsedURL.Scheme != "" && parsedURL.Host != ""
}

// GetDomainFromURL extracts the host name from a URL string.
func GetDomainFromURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

// NormalizeURL normaliza uma URL, adicionando http:// se nenhum esquema estiver presente
// e convertendo esquema e host para minúsculas.
func NormalizeURL(rawURL string) (string, error) {
	if !schemePattern.MatchString(rawURL) {
		if protocolRelativePattern.MatchString(rawURL) {
			rawURL = "http:" + rawURL // Adiciona http: para URLs do tipo //example.com
		} else {
			rawURL = "http://" + rawURL // Adiciona http:// como esquema padrão
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parsedURL.Scheme = strings.ToLower(parsedURL.Scheme)
	parsedURL.Host = strings.ToLower(parsedURL.Host)
	return parsedURL.String(), nil
}

// ExtractBaseDomain extrai o domínio base de uma URL (e.g., example.com).
// Used as the pacing key so that sub.example.com and example.com share a budget.
func ExtractBaseDomain(urlString string) (string, error) {
	normalized, err := NormalizeURL(urlString)
	if err != nil {
		return "", err
	}
	parsedURL, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}

	host := parsedURL.Hostname() // Hostname() remove a porta
	if host == "" {
		return "", &url.Error{Op: "ExtractBaseDomain", URL: urlString, Err: errors.New("host is empty")}
	}

	// Para IPs e nomes sem ponto (localhost), retorna o próprio host.
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}

	eTLDPlusOne, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		parts := strings.Split(host, ".")
		if len(parts) >= 2 {
			return strings.Join(parts[len(parts)-2:], "."), nil
		}
		return "", fmt.Errorf("failed to get eTLD+1 for host '%s': %w", host, err)
	}
	return eTLDPlusOne, nil
}
