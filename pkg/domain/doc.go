// Package domain defines the core types shared by the interactions webhook.
//
// This package contains pure domain logic with no dependencies outside the
// Go standard library. Everything here lives for a single request/response
// cycle:
//
//   - Interaction and ChannelRef describe what the platform delivered.
//   - ProxyCatalog is the normalized upstream proxy list.
//   - CommandReply is the single outcome the router produces per interaction.
//
// Other packages (signature, router, response, server) depend on these types.
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
