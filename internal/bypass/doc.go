// Package bypass implements the rule set exempting routes from quota
// consumption. Rules match exactly, by prefix, or by compiled pattern,
// and overlapping rules are resolved by a deterministic specificity
// ordering.
package bypass
