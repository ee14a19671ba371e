// Package noise secures links between virtual network nodes with the Noise
// Protocol Framework.
//
// Links use the IK pattern from the flynn/noise library with Curve25519,
// ChaCha20-Poly1305 and SHA256. A node always knows the static key of the
// node it dials, because node addresses are derived from those keys, so the
// initiator can encrypt its identity in the very first message.
//
// Message flow:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss  (ephemeral, static)
//	                                       <- e, ee, se  (ephemeral)
//	[session established]
//
// Example usage:
//
//	ik, err := noise.NewIKHandshake(localKeys, peerPub, noise.Initiator)
//	if err != nil {
//	    return err
//	}
//	msg, err := ik.Initiate(nil)
//	// send msg, receive reply
//	if _, err := ik.Finish(reply); err != nil {
//	    return err
//	}
//	session, _ := ik.Session()
//	frame, _ := session.Seal(payload)
//
// The responder side calls Respond with the received message and obtains its
// Session directly. [Establish] runs both sides in memory for peers living in
// the same process.
//
// A [Session] is safe for concurrent use but frames must be opened in the
// order they were sealed, since both sides advance their nonces per frame.
package noise
