/*
Package dsl provides a Go DSL for programmatically constructing flowbot graphs.

It builds the same node/edge documents the visual editor produces, so flows can be
defined in Go with type checking instead of hand-written JSON. This is useful for
tests, generated bots and embedding.

Example usage:

	b := dsl.New("coffee")

	b.Start().Go("menu")

	b.Options("menu", "Coffee or tea?").
		Option("Coffee", "coffee", "brew").
		Option("Tea", "tea", "steep").
		Default("menu")

	b.Message("brew", "Brewing coffee")
	b.Message("steep", "Steeping tea")

	g, err := b.Build()
	// ... pass g to Engine.Activate
*/
package dsl
