// Package pipeline runs batches of protocol probes concurrently.
//
// A BatchRunner fans jobs out over a bounded number of goroutines and
// collects every outcome, successful or not, in input order. Individual
// probe failures never abort the batch; only context cancellation does.
package pipeline
