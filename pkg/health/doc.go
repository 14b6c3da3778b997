// Package health provides liveness and readiness handlers.
//
// [LivenessHandler] always answers OK while the process runs.
// [ReadinessHandler] runs named checks in parallel with a shared timeout.
//
// Checks come in two kinds. Critical checks make the instance unready when
// they fail. Optional checks, added with [WithOptional], only degrade the
// status: a cache whose persistent tier is down keeps serving from memory,
// so it should stay in the load balancer.
//
//	r.Get("/health/live", health.LivenessHandler())
//	r.Get("/health/ready", health.ReadinessHandler(nil,
//		health.WithOptional(health.Checks{
//			"redis": redis.Healthcheck(client),
//		}),
//		health.WithLogger(log),
//	))
//
// Responses are plain text by default ("OK", "Degraded" or
// "Service Unavailable"). Send Accept: application/json or ?format=json for
// the full [Response].
package health
