// Package kerberos implements the negotiated-context mechanism: Kerberos V5
// context establishment with GSS-API token framing (RFC 4121), on top of
// gokrb5.
//
// Message flow:
//
//	initiator                                 acceptor
//	  AP-REQ (0x0100)        ------------>
//	                         <------------   AP-REP (0x0200)       complete
//	                                         AP-REP (0x0201)       continue
//	                                         KRB-ERROR (0x0300)    rejected
//	  MIC(transcript)        ------------>                         (0x0201 only)
//
// The initiator always asks for mutual authentication and sends a fresh
// subkey. The context key is that subkey, or the acceptor subkey when the
// configured security level is 2 or higher.
//
// After completion the capability produces RFC 4121 MIC tokens (0x0404) and
// sealed wrap tokens (0x0504) under the context key.
package kerberos
