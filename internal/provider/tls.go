package provider

import "crypto/tls"

// insecureTLSConfig skips certificate verification. Some GigaChat
// installations terminate TLS with the Russian Trusted Root CA or a
// self-signed certificate; the operator opts in via configuration.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
}
