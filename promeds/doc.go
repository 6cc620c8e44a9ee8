// Package promeds implements PROMedS robust estimation: progressive
// sampling guided by per-sample quality scores, scored by the weighted
// median of weighted squared residuals.
//
// The loop repeatedly draws small sample subsets biased towards high
// quality scores, fits a candidate model to each subset through the
// Problem interface, and keeps the candidate whose weighted median of
// squared residuals over all samples is lowest. Iteration stops at a
// configured budget, at an adaptively shrinking RANSAC-style bound, or
// as soon as a candidate scores below a threshold. The winning
// candidate classifies samples into inliers and outliers through a
// robust scale estimate, and is optionally re-fitted on the inliers.
//
// The package is model-agnostic: position estimation plugs in through
// a Problem implementation built on the lateration package.
package promeds
