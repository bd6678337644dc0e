// Package token encodes and decodes the signed bearer tokens issued by authcore:
// short-lived access tokens and store-tracked refresh tokens.
//
// Access and refresh tokens are signed with independent secrets, so a token of
// one kind can never be replayed as the other. Decode failures are classified
// into three sentinel errors, [ErrExpired], [ErrSignatureInvalid], and
// [ErrMalformed], because callers treat "please refresh" and "please
// re-login" differently even though both deny the request.
//
// # What this package must NOT do
//
//   - Talk to any store or cache. A decoded payload says nothing about
//     revocation state.
//   - Import authcore or its sibling packages (no upward imports).
package token
