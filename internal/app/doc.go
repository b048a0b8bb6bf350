// Package app wires the license server together and runs it.
//
// Build takes an explicit configuration and creates, in order: telemetry,
// the order store, the notification queue and dispatcher, alerting, the
// services and the chi router. Run serves HTTP and drains the email queue
// until the context is cancelled or SIGINT/SIGTERM arrives. The HTTP server
// stops first, then the dispatcher, then Close releases the queue, telemetry
// and the store.
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
