// Package governance holds the runtime safety controls applied to the single
// outbound call the webhook makes.
//
// The upstream proxy API is called at most once per command and never
// retried, so the only control kept here is a bounded request timeout that
// stands in for the hosting platform's request budget.
package governance
