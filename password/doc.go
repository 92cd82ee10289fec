// Package password hashes and checks account passwords with Argon2id.
//
// Hashes use the PHC string layout:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports hashes produced with weaker parameters so the
// backend can re-hash after the next successful sign-in. Length limits are
// applied by [Policy] before any key derivation runs.
package password
