// Package authority implements the license authority: the verification
// endpoint logic that classifies a license for a calling installation and
// binds it on first use, the dormant license reaper, and the admin
// operations used to issue, release and revoke licenses.
//
// All state lives in the license record store. Each verification step
// persists its own mutation through a conditional single-row update, so
// concurrent first-use verifications bind exactly one installation.
package authority
