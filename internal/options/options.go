// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package options

import "iter"

// Apply yields all non-nil options of a given type, in order, from the primary
// list followed by any trailing options.
func Apply[T, O any](opts []O, rest ...O) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, list := range [2][]O{opts, rest} {
			for _, opt := range list {
				if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
					return
				}
			}
		}
	}
}
