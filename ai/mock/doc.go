// Package mock provides deterministic test doubles for the ai interfaces.
// Mocks default to stable pseudo-random behavior derived from the input text,
// and allow custom behavior injection via function fields.
package mock
