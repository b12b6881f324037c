package handlers

// Test-only aliases so the external handlers_test package (which must import
// routes, and therefore cannot live inside package handlers) can reach
// unexported identifiers.
type (
	Pinger        = pinger
	ErrorResponse = errorResponse
)

var OriginChecker = originChecker
