// Package template provides a Handlebars template engine for rendering job
// prompts against their input.
//
// Example usage:
//
//	engine := template.NewEngine()
//
//	input := map[string]interface{}{
//	    "subject": "a lighthouse",
//	    "style":   "watercolor",
//	}
//
//	prompt, err := engine.Render("{{uppercase style}} painting of {{subject}}", input)
//	// Output: WATERCOLOR painting of a lighthouse
//
// Built-in helpers:
//   - uppercase, lowercase, trim - string casing and whitespace
//   - join - Join array elements with separator
package template
