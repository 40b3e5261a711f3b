// Package httputil holds the JSON envelope, error and attachment helpers
// shared by the staging handlers.
package httputil
