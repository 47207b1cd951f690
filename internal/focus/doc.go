// Package focus turns raw attention input (window focus, operator toggles)
// into a debounced signal. A short absence never tears connections down;
// only an absence longer than the configured timeout is reported as lost.
package focus
