// Package main provides the entry point for the probegw CLI.
//
// probegw is a secure outbound probing gateway for binary network protocols.
// It validates every destination against SSRF and anycast-edge block tables
// before opening a socket, then speaks the target protocol just far enough
// to detect a live service.
//
// Usage:
//
//	probegw probe --protocol zabbix example.com
//	probegw serve --listen 127.0.0.1:8742
//
// See --help for all available options.
package main

// main is the entry point for probegw.
func main() {
	Execute()
}
