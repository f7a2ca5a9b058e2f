// Package pki implements the certificate mechanism: a three-message mutual
// handshake in which both sides present X.509 chains, validate each other
// against their configured trust anchors and agree on session keys through
// an ephemeral X25519 exchange.
//
// Message flow:
//
//	initiator                          acceptor
//	  Hello{nonce, share, digests, chain} ->
//	                       <- Reply{nonce, share, digest, chain, sig}
//	  Finish{sig, confirm} ->
//
// Every signature covers a transcript digest computed with the negotiated
// digest algorithm over the exact bytes exchanged so far. The Finish
// confirmation is a MAC of the final transcript under a key derived from the
// shared secret, which proves both sides hold the same keys.
//
// Chain validation fails closed. Any validation failure is returned as a
// ValidationError together with an Alert message for the peer.
package pki
