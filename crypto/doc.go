// Package crypto implements node identities for the virtual network.
//
// A node is identified by a Curve25519 key pair. Its 40-bit node address is
// derived from a BLAKE2b-512 digest of the public key, so the address alone
// commits to the key. The same key pair serves as the static key of the
// Noise handshakes that protect node-to-node links.
//
// # Core Types
//
//   - [KeyPair]: Curve25519 key pair
//   - [Identity]: key pair plus derived node address
//   - [IdentityStore]: on-disk persistence in a node's storage directory
//
// # Persistence
//
// Identities are written as two text files:
//
//	identity.public  <node id>:0:<public key hex>
//	identity.secret  <node id>:0:<public key hex>:<private key hex>
//
// Files are replaced atomically. The secret file is created with mode 0600.
//
// Example:
//
//	store, err := crypto.NewIdentityStore(dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := store.LoadOrCreate()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("node %010x\n", id.NodeID)
//
// Private key material should be erased with [WipeKeyPair] or [ZeroBytes]
// once it is no longer needed.
package crypto
