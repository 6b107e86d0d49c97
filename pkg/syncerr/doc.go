/*
Package syncerr defines the storage engine's error taxonomy.

Errors the engine classifies carry one of the Kinds below, possibly wrapped
via fmt.Errorf's %w so that KindOf and Is still classify them correctly.
Backend failures the engine does not classify are passed through wrapped
with %w and report Kind Unknown. Kind exists because callers
(the eventual HTTP layer, the CLI, tests) need to distinguish "not found"
from "conflict" from "quota exceeded" without parsing a message string.
*/
package syncerr
