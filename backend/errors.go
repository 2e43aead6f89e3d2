package backend

import "errors"

// errUnauthorized is the stream subscriber auth-failure sentinel; the HTTP
// handler maps it to a 401 close per the subscriber failure semantics.
var errUnauthorized = errors.New("backend: unauthorized")
