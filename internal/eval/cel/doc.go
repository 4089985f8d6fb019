// Package cel provides a CEL (Common Expression Language) evaluator for job
// input validation.
//
// Expressions see the job input as the variable "input":
//
//	evaluator := cel.NewEvaluator()
//
//	ok, err := evaluator.EvaluateBool(ctx, "has(input.prompt) && size(input.prompt) > 0", jobInput)
//	if err != nil {
//	    return err
//	}
//
// Compiled programs are cached per expression, so validation rules are
// parsed once per process.
package cel
