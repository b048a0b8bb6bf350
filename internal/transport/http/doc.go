// Package http implements the HTTP handlers of the license server. Handlers
// stay thin: they decode and validate the request, call a service and render
// the result.
//
// # Routes
//
//	GET|POST /api/payment/notify              gateway notification, plain text reply
//	POST     /api/orders                      create a pending order
//	GET      /api/orders/{orderNo}/status     payment status
//	POST     /api/license/activate            bind a device
//	GET      /api/license/devices             list bound devices
//	POST     /api/license/devices/deactivate  remove another device
//	POST     /api/license/devices/release     remove the calling device
//	GET      /api/health[/ready|/live]        health checks
//
// # Responses
//
// Definitive refusals (device limit reached, unauthorized device and so on)
// are rendered as JSON bodies with success false and a reason code. The
// status code follows the reason. Faults go through the RFC 7807 error
// handler:
//
//	{
//	    "type": "/errors/service-unavailable",
//	    "title": "Service Unavailable",
//	    "status": 503,
//	    "detail": "The service is temporarily unavailable, please retry",
//	    "instance": "/api/license/activate",
//	    "retryable": true
//	}
//
// The payment notification endpoint is the exception: the gateway only
// understands the plain text tokens, so it never returns problem details.
//
// # Testing
//
// Handlers are tested with httptest against testify mocks of the services.
package http
