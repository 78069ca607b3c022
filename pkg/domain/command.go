package domain

// Command names shared by the router and the command registrar.
const (
	CommandHTTP   = "http"
	CommandHTTPS  = "https"
	CommandSOCKS4 = "socks4"
	CommandSOCKS5 = "socks5"
	CommandAll    = "all"
	CommandInvite = "invite"
)

// CommandNames lists every registered command in registration order.
var CommandNames = []string{CommandHTTP, CommandHTTPS, CommandSOCKS4, CommandSOCKS5, CommandAll, CommandInvite}
