// Package api hosts the HTTP handlers that front the mediaforge REST API.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating persistence to storage.Repository
// implementations and job lifecycle work to the transcode.Orchestrator
// injected at construction time. The package does not reach for globals or
// singletons and expects callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced bearer-token authentication, rate limiting, metrics, and
// logging concerns. The one exception is the provider webhook, which carries
// its own HMAC authentication and is exempt from the bearer token check. New
// routes should preserve that contract by avoiding duplicate validation and
// by leaning on the middleware guarantees established in the server stack.
package api
