// Package worker implements the serverless worker's job loop.
//
// The loop takes one job at a time from a job.Source, marks it as the
// current job, runs the handler, submits the result and clears the current
// job before fetching again:
//
//	Idle -> Fetching -> Executing -> Submitting -> Idle
//
// When no job is available the loop waits IdleDelay before fetching again.
// A result with stopPod set ends the loop with ErrRefreshRequested so the
// process can exit and the platform can replace the pod.
//
// Example usage:
//
//	w := worker.New(worker.Config{
//	    Source:    job.NewHTTPSource(client, workerState, apiKey, logger),
//	    Handler:   handler,
//	    Submitter: job.NewHTTPSubmitter(client, workerState, apiKey, logger),
//	    State:     workerState,
//	    Logger:    logger,
//	})
//	if err := w.Run(ctx); errors.Is(err, worker.ErrRefreshRequested) {
//	    os.Exit(0)
//	}
//
// Health checks and metrics are provided via a separate HTTP server:
//
//	healthServer := worker.NewHealthServer(8082, workerState, nil, logger)
//	healthServer.EnableRealtime(worker.NewRealtime(worker.RealtimeConfig{
//	    EndpointID: endpointID,
//	    Handler:    handler,
//	}))
//	healthServer.Start()
//	defer healthServer.Stop()
package worker
