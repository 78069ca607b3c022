// Package tls terminates TLS on the webhook listener. Certificates are loaded
// from PEM files, validated, and reloaded when the files change on disk so
// that rotated certificates take effect without a restart.
package tls
