// Package eventhub provides the AMQP connection and link lifecycle layer for
// an event hub style messaging client.
//
// The primary lifecycle is:
//   - construct a ConnectionScope with NewConnectionScope
//   - OpenManagementLink or OpenConsumerLink as the client needs them; the
//     shared transport connection is established lazily on the first open
//   - consume events through the returned links
//   - Close the scope when finished, which tears down links, refresh
//     timers, and the shared connection
//
// One connection is shared by every link a scope opens, created at most once
// even under concurrent first callers and replaced transparently if the
// broker drops it. Each consumer link carries a claims-based security
// authorization that the scope renews in the background before the token
// expires; renewal failures are reported through the error handler and the
// logger without closing the link.
//
// This package is safe for concurrent use of exported scope APIs. Error
// handlers can execute from timer goroutines and must be thread-safe.
//
// Errors are reported as typed errors created with NewError; use
// HasErrorCode to branch on the error code. Context cancellation surfaces as
// the raw context error.
//
// The AMQP protocol engine is github.com/Azure/go-amqp behind the Dialer,
// Connection, Link, and ClaimsAuthorizer seams, so the lifecycle logic can
// be exercised without a network stack.
//
// Integration tests are environment-gated and use these variables:
// EVENTHUB_TEST_ENDPOINT, EVENTHUB_TEST_ENTITY, EVENTHUB_TEST_TOKEN, and
// EVENTHUB_TEST_CONSUMER_GROUP.
package eventhub
