/*
Package license keeps the monitored instance's view of its license.

The instance never asks the authority on every device action. The Manager
caches the latest verdict and revalidates it when it is older than the
refresh interval, when a device mutation forces a recheck, or when the
operator changes the key. Concurrent stale readers share one live check.

# State derivation

Evaluate is the single transition function. Given the last successful
check, the outcome of a new attempt and the grace window it yields one of:

  - active: the authority accepted the license (active or free)
  - grace_period: the authority could not be reached, a prior good check
    exists and the grace window has not ended
  - disabled: unreachable and the grace window has ended
  - error: unreachable and no prior good check, or no key configured
  - expired, revoked, in_use, not_found, invalid_request: the authority's
    answer, surfaced verbatim; the last good check is discarded

Transport errors, timeouts, non-200 responses, undecodable bodies, an open
circuit breaker and actual_status=error are all transient.

# Persistence

The license key, installation id, last-checked marker, last good check and
latest verdict live in a small key-value store (SQLite table
instance_settings, or Redis under a key prefix) so a restart resumes with
the same grace window.
*/
package license
