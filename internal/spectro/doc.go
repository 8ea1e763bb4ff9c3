// Package spectro reads raw light-sensor signal values and converts them to
// absorbance against a zero-concentration reference.
package spectro
