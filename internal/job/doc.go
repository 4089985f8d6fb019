// Package job covers a job's lifecycle inside the worker: acquiring it,
// running the handler on it and delivering the result.
//
// Jobs come from a Source:
//   - HTTPSource takes them from the control plane's job endpoint;
//   - RedisSource consumes them from a Redis stream;
//   - LocalSource reads a fixture file for development without a control plane.
//
// Runner invokes the Handler and normalizes its return value into a Result.
// A Submitter delivers the Result (HTTPSubmitter or RedisSubmitter); failed
// deliveries are retried with backoff and then dropped.
//
// Example usage:
//
//	source := job.NewLocalSource("test_input.json", logger)
//	runner := job.NewRunner(logger)
//	submitter := job.NewHTTPSubmitter(http.DefaultClient, workerState, apiKey, logger)
//
//	j, _ := source.Next(ctx)
//	result := runner.Run(ctx, handler, j)
//	if err := submitter.Submit(ctx, j.ID, result); err != nil {
//	    logger.Error("result lost", zap.Error(err))
//	}
package job
