// Package auth drives mutual authentication handshakes independently of the
// mechanism that carries them.
//
// This package defines the core types of a handshake:
//
//   - Session: the Idle -> Exchanging -> Established | Failed state machine
//   - Mechanism: a handshake driver advanced one message at a time
//   - PeerIdentity: the validated name of the remote party
//   - Capability: per-message integrity and confidentiality for an
//     established session
//   - SeqWindow: replay detection for inbound per-message tokens
//
// Sub-packages:
//   - pki/: certificate chain handshake with transcript binding
//   - kerberos/: Kerberos V5 security context establishment
//   - mechanism/: builds the driver selected by configuration
//
// A Session never holds credential material between steps. Each Step
// borrows the credential from a credential.Store for the duration of that
// step only, so a session abandoned mid-handshake leaves nothing to clean up.
package auth
