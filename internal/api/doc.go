// Package api hosts the HTTP handlers that front the coursestream pipeline.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating job persistence to a storage.Store and
// conversion work to the transcode.Orchestrator injected at construction
// time. Capability verification is provided by an auth.Codec instance passed
// into the handler; the package does not reach for globals or singletons and
// expects callers to supply fully configured dependencies.
//
// The streaming handlers are deliberately ordered: a request is verified
// against the capability codec before any filesystem access, and existence
// checks run only after authorization so unauthenticated callers can never
// probe which assets are present.
//
// Handler implementations assume upstream middleware from internal/server has
// already applied request identifiers, rate limiting, metrics, and logging.
// New routes should preserve that contract by leaning on the middleware
// guarantees established in the server stack.
package api
