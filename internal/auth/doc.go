// Package auth provides authentication and authorisation for the identity service.
//
// It covers:
//   - Vault: RSA-OAEP decryption of client-encrypted passwords, a cached
//     public key endpoint payload, and Argon2id hashing
//   - Password policy on decrypted plaintext
//   - TokenService: HS256 access tokens with a permission snapshot, and
//     single-use refresh tokens backed by refresh_tokens rows
//   - Resolver: snapshot or live permission checks, and the companion gate
//   - AccountService: register, password login and password change
//
// Refresh rotation is a compare-and-swap on refresh_tokens.revoked_at. A
// token that lost the swap, or is presented after being consumed, is
// rejected with ErrTokenRevoked.
//
// Roles are rows, not constants: owner, admin and user are seeded by
// migration and further roles can be created through the admin API. Only
// owner is immutable.
package auth
