// Package moderation classifies user-submitted post and comment text.
//
// A Classifier runs four independent detectors over the trimmed input:
// abuse, hate speech, spam signals and misleading claims. Findings are
// merged into a Verdict whose reasons keep detector order. Classifiers
// hold only immutable tables, so one instance may be shared by any
// number of goroutines.
package moderation
