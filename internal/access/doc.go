// Package access evaluates per-type access-control rules for mutations of
// the shared object graph. Rules are named predicates over (actor context,
// target wrapper, operation options), registered per syncable type in a
// statically-assembled table with subtype inheritance. Rules may traverse
// secures associations; traversal is cycle-safe. Rules can also be declared
// as CEL expressions and compiled at startup.
package access
