// Package api exposes the REST surface for creating negotiation sessions,
// driving them to completion, and retrieving timelines, statistics, and
// market quotes. It maps the unified error codes onto HTTP status codes.
package api
