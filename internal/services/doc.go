// Package services holds the application services that sit between the HTTP
// handlers and the domain core.
//
//   - PaymentService verifies gateway notifications, applies them through the
//     order state machine, queues the license email and decides the reply.
//   - OrderService creates pending orders with a signed gateway URL and
//     reports payment status.
//   - LicenseService maps device activation results onto client responses.
//   - HealthService backs the health, readiness and liveness endpoints.
//
// Services take their collaborators as small interfaces so they can be tested
// with testify mocks.
package services
