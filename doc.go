// Package auth provides the brewery session manager (identity plus profile
// resolution), the route guard that gates pages by role, and the HTTP
// helpers that bind browsers to sessions.
//
// Sessions:
//   - SessionManager subscribes to an IdentityProvider and resolves the
//     UserProfile document stored under the identity subject. It publishes
//     a Session snapshot to watchers on every change. While a resolution
//     is in flight the session is Loading; a missing, inactive or
//     malformed profile resolves to no profile, never to a default role.
//   - A newer identity change supersedes an in flight resolution. Results
//     for a previous subject are dropped.
//   - CreateUser provisions an identity and then writes its profile. The
//     two writes are not atomic; a failed profile write surfaces
//     ErrProvisioningPartialFailure with the orphaned subject.
//
// Route guard:
//   - Evaluate maps (loading, profile, allow list) to one of four states.
//     Only GuardGranted renders a page. RouteGuard.Decide adds the redirect
//     target and the routeguard middleware applies it to router requests.
//   - Browsers only get a registered session when they sign in or present
//     an identity token that restores. Signing in issues a new session id.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter for sign in, sign out,
//     provisioning and profile administration. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue without
//     blocking authentication.
package auth
