// Package server hosts the Fiber HTTP service and the waiter dispatcher that
// bridges tile requests to the fetch layer. It exposes GET /tiles routes,
// attaches request-ID and recover middlewares, and fans a single delivery out
// to every request waiting on the same tile. Keep exports narrow and accept
// explicit dependencies so main and tests can wire fakes.
package server
