// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing command events and asserting on bus
// traffic. These helpers are intentionally minimal; they are not intended for
// production usage.
package testutil
