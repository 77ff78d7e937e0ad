// Package store keeps track of instantiated modules by name and
// holds the single active instance used for anonymous execution.
package store
