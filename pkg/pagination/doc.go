/*
Package pagination encodes and decodes the opaque offset token returned by
a GetBSOs listing.

Callers are expected to treat the token as opaque, but in this
implementation it is simply the row offset to resume from, base64url
encoded so it can travel safely in a JSON string or a query parameter
without callers depending on its internal shape.
*/
package pagination
