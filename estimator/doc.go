// Package estimator owns the user-facing position estimation API. An
// Estimator binds radio sources, a fingerprint of readings taken at an
// unknown position, optional per-source and per-reading quality scores,
// and the robust loop configuration. Estimate flattens the readings
// into measurement triples, runs PROMedS over lateration candidates,
// and reports the winning position with optional covariance and the
// inlier classification.
//
// An estimator is single-threaded. It locks itself for the duration of
// Estimate: every mutator fails with ErrLocked while an estimate is in
// flight, including calls made from listener callbacks.
package estimator
