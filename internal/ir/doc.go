// Package ir provides the domain types shared by every mbfit package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Fragment order inside a Geometry is significant and never reshuffled
//   - Subsets use 0-based fragment indices internally and 1-based labels
//     ("1", "12", "123") on disk and in output
//   - Filters are typed Patterns (Exact or Any), never wildcard strings
//   - All JSON tags use snake_case
package ir
