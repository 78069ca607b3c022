// Package policy evaluates the channel scope rule with an embedded Open Policy
// Agent engine. The default Rego module allows proxy commands in direct
// messages, group direct messages, and channels named exactly "proxy";
// operators may supply their own module as long as it defines the same
// decision path.
package policy
